package source

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Booking statuses known to the marketplace.
var BookingStatuses = []string{"pending", "confirmed", "in_progress", "completed", "cancelled"}

// Payment statuses known to the marketplace.
var PaymentStatuses = []string{"pending", "completed", "failed", "refunded"}

// User roles known to the marketplace.
var UserRoles = []string{"customer", "provider", "admin", "super_admin"}

// Booking is a customer booking of a provider service.
type Booking struct {
	ID                int64
	CustomerID        *int64
	CustomerEmail     string
	ProviderID        *int64
	ProviderEmail     string
	ServiceID         *int64
	ServiceTitle      string
	Status            string
	Location          string
	PreferredDate     *time.Time
	PreferredTime     *string
	Frequency         string
	ScheduledDatetime *time.Time
	TotalPrice        *string
	CreatedAt         time.Time
}

func (b *Booking) Key() int64   { return b.ID }
func (b *Booking) Source() Name { return Bookings }

func (b *Booking) Values() []string {
	return []string{
		strconv.FormatInt(b.ID, 10),
		fmtID(b.CustomerID),
		b.CustomerEmail,
		fmtID(b.ProviderID),
		b.ProviderEmail,
		fmtID(b.ServiceID),
		b.ServiceTitle,
		b.Status,
		b.Location,
		fmtDate(b.PreferredDate),
		fmtStr(b.PreferredTime),
		b.Frequency,
		fmtTime(b.ScheduledDatetime),
		fmtStr(b.TotalPrice),
		fmtTime(&b.CreatedAt),
	}
}

// Validate checks that the booking references a customer and carries a
// non-negative price.
func (b *Booking) Validate() error {
	if b.CustomerID == nil {
		return errors.New("booking has no customer")
	}
	if b.TotalPrice != nil {
		if err := nonNegative("total_price", *b.TotalPrice); err != nil {
			return err
		}
	}
	return nil
}

// Payment is a payment made by a user.
type Payment struct {
	ID            int64
	UserID        *int64
	UserEmail     string
	Amount        string
	Currency      string
	Status        string
	PaymentMethod string
	TransactionID string
	Description   string
	CreatedAt     time.Time
}

func (p *Payment) Key() int64   { return p.ID }
func (p *Payment) Source() Name { return Payments }

func (p *Payment) Values() []string {
	return []string{
		strconv.FormatInt(p.ID, 10),
		fmtID(p.UserID),
		p.UserEmail,
		p.Amount,
		p.Currency,
		p.Status,
		p.PaymentMethod,
		p.TransactionID,
		p.Description,
		fmtTime(&p.CreatedAt),
	}
}

// Validate checks the amount and the ISO 4217 currency code.
func (p *Payment) Validate() error {
	if err := nonNegative("amount", p.Amount); err != nil {
		return err
	}
	if len(p.Currency) != 3 {
		return fmt.Errorf("invalid currency %q", p.Currency)
	}
	return nil
}

// User is a marketplace account.
type User struct {
	ID         int64
	Email      string
	FirstName  string
	LastName   string
	Role       string
	IsActive   bool
	DateJoined time.Time
	LastLogin  *time.Time
}

func (u *User) Key() int64   { return u.ID }
func (u *User) Source() Name { return Users }

func (u *User) Values() []string {
	return []string{
		strconv.FormatInt(u.ID, 10),
		u.Email,
		u.FirstName,
		u.LastName,
		u.Role,
		strconv.FormatBool(u.IsActive),
		fmtTime(&u.DateJoined),
		fmtTime(u.LastLogin),
	}
}

// Validate checks the email address and role.
func (u *User) Validate() error {
	at := strings.IndexByte(u.Email, '@')
	if at <= 0 || at == len(u.Email)-1 {
		return fmt.Errorf("invalid email %q", u.Email)
	}
	if !slices.Contains(UserRoles, u.Role) {
		return fmt.Errorf("unknown role %q", u.Role)
	}
	return nil
}

// Service is a service offered by a provider.
type Service struct {
	ID            int64
	ProviderID    *int64
	ProviderEmail string
	Title         string
	Description   string
	Price         string
	CreatedAt     time.Time
}

func (s *Service) Key() int64   { return s.ID }
func (s *Service) Source() Name { return Services }

func (s *Service) Values() []string {
	return []string{
		strconv.FormatInt(s.ID, 10),
		fmtID(s.ProviderID),
		s.ProviderEmail,
		s.Title,
		s.Description,
		s.Price,
		fmtTime(&s.CreatedAt),
	}
}

// Validate checks the title and price.
func (s *Service) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("service has no title")
	}
	return nonNegative("price", s.Price)
}

func nonNegative(field, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s %q is not a number", field, v)
	}
	if f < 0 {
		return fmt.Errorf("%s %s is negative", field, v)
	}
	return nil
}
