package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxImages is the number of image slots a catalog entry can carry.
const MaxImages = 9

type Status string

const (
	StatusAvailable     Status = "AVAILABLE"
	StatusSold          Status = "SOLD"
	StatusPublished     Status = "PUBLISHED"
	StatusPublishFailed Status = "PUBLISH_FAILED"
	StatusUpdated       Status = "UPDATED"
	StatusUpdateFailed  Status = "UPDATE_FAILED"
)

var statuses = map[Status]struct{}{
	StatusAvailable:     {},
	StatusSold:          {},
	StatusPublished:     {},
	StatusPublishFailed: {},
	StatusUpdated:       {},
	StatusUpdateFailed:  {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if st == "" {
		return StatusAvailable, nil
	}
	if _, ok := statuses[st]; !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := statuses[s]
	return ok
}

// HasRemote reports whether an item in this status must carry a remote id.
func (s Status) HasRemote() bool {
	return s == StatusPublished || s == StatusUpdated || s == StatusUpdateFailed
}

var (
	ErrEmptySKU       = errors.New("sku is empty")
	ErrTooManyImages  = errors.New("too many images")
	ErrRemoteIDStatus = errors.New("remote id does not match status")
)

// Item is one catalog entry as it comes from the feed and as it is kept in the store.
type Item struct {
	SKU    string
	Status Status

	Title       string
	Description string
	Brand       string
	Model       string
	Material    string
	Condition   string
	Color       string
	Size        string
	Dimensions  string
	Category    string
	Gender      string
	Country     string

	Price          *decimal.Decimal
	SalePrice      *decimal.Decimal
	CompareAtPrice *decimal.Decimal
	WholesalePrice *decimal.Decimal
	Quantity       int

	// Images holds up to MaxImages ordered references; empty slots are trimmed.
	Images []string

	// bookkeeping, never pushed remotely
	Cost  *decimal.Decimal
	Notes string

	RemoteID    string
	PublishedAt *time.Time
	LastError   string
}

func (i Item) Validate() error {
	if strings.TrimSpace(i.SKU) == "" {
		return ErrEmptySKU
	}
	if !i.Status.Valid() {
		return fmt.Errorf("sku %s: unknown status %q", i.SKU, i.Status)
	}
	if len(i.Images) > MaxImages {
		return fmt.Errorf("sku %s: %w: %d > %d", i.SKU, ErrTooManyImages, len(i.Images), MaxImages)
	}
	if (i.RemoteID != "") != i.Status.HasRemote() {
		return fmt.Errorf("sku %s: %w: status=%s remoteId=%q", i.SKU, ErrRemoteIDStatus, i.Status, i.RemoteID)
	}
	return nil
}

// ImageCount is the number of non-empty image references.
func (i Item) ImageCount() int {
	n := 0
	for _, img := range i.Images {
		if strings.TrimSpace(img) != "" {
			n++
		}
	}
	return n
}

// Clone returns a copy that shares no mutable state with i.
func (i Item) Clone() Item {
	c := i
	c.Price = cloneDecimal(i.Price)
	c.SalePrice = cloneDecimal(i.SalePrice)
	c.CompareAtPrice = cloneDecimal(i.CompareAtPrice)
	c.WholesalePrice = cloneDecimal(i.WholesalePrice)
	c.Cost = cloneDecimal(i.Cost)
	if i.Images != nil {
		c.Images = append([]string(nil), i.Images...)
	}
	if i.PublishedAt != nil {
		t := *i.PublishedAt
		c.PublishedAt = &t
	}
	return c
}

// WithRemoteState copies the bookkeeping that only the store knows about from stored onto i.
func (i Item) WithRemoteState(stored Item) Item {
	c := i.Clone()
	c.RemoteID = stored.RemoteID
	c.Status = stored.Status
	c.LastError = stored.LastError
	if stored.PublishedAt != nil {
		t := *stored.PublishedAt
		c.PublishedAt = &t
	}
	return c
}

// BusinessEqual compares only the fields that end up on the remote platform.
func (i Item) BusinessEqual(other Item) bool {
	return len(i.BusinessDiff(other)) == 0
}

// BusinessDiff lists the business fields that differ between i and other.
func (i Item) BusinessDiff(other Item) []string {
	var diff []string
	for _, f := range Fields {
		if !f.Business {
			continue
		}
		if f.Get(&i) != f.Get(&other) {
			diff = append(diff, f.Name)
		}
	}
	return diff
}

// Equal compares every field, bookkeeping included.
func (i Item) Equal(other Item) bool {
	for _, f := range Fields {
		if f.Get(&i) != f.Get(&other) {
			return false
		}
	}
	if i.Status != other.Status || i.RemoteID != other.RemoteID || i.LastError != other.LastError {
		return false
	}
	switch {
	case i.PublishedAt == nil && other.PublishedAt == nil:
		return true
	case i.PublishedAt == nil || other.PublishedAt == nil:
		return false
	default:
		return i.PublishedAt.Equal(*other.PublishedAt)
	}
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
