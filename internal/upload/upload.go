// Package upload converts stored raids into the DKP server's upload format
// and posts them.
package upload

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/raidkeeper/internal/config"
	"github.com/ernie/raidkeeper/internal/domain"
)

// AttendanceSource reports how often an account attended the calls in a window
type AttendanceSource interface {
	AttendanceRatio(ctx context.Context, account string, since, until time.Time) (float64, error)
}

// Info is the raid document sent to the DKP server
type Info struct {
	RaidID    string    `json:"raid_id"`
	UploadID  string    `json:"upload_id"`
	Name      string    `json:"name"`
	Zone      string    `json:"zone,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Ticks     []Tick    `json:"ticks"`
	Items     []Item    `json:"items"`
}

// Tick is one attendance or kill call
type Tick struct {
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Characters []string  `json:"characters"`
}

// Item is one DKP spend with its discount applied
type Item struct {
	Character      string    `json:"character"`
	Account        string    `json:"account"`
	Item           string    `json:"item"`
	Cost           int       `json:"cost"`
	DiscountedCost int       `json:"discounted_cost"`
	Discount       string    `json:"discount,omitempty"`
	Tick           string    `json:"tick,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Builder turns raids into upload documents
type Builder struct {
	rules      []config.DiscountConfig
	attendance AttendanceSource
	newID      func() string
}

// NewBuilder creates a builder applying the given discount rules in order.
// A nil attendance source disables rules that require attendance.
func NewBuilder(rules []config.DiscountConfig, attendance AttendanceSource) *Builder {
	return &Builder{rules: rules, attendance: attendance, newID: uuid.NewString}
}

// BuildUploadInfo converts a stored raid into an upload document
func (b *Builder) BuildUploadInfo(ctx context.Context, raid *domain.Raid, roster domain.Roster) (*Info, error) {
	if raid.UUID == "" {
		return nil, fmt.Errorf("raid %d has no uuid", raid.ID)
	}
	info := &Info{
		RaidID:    raid.UUID,
		UploadID:  b.newID(),
		Name:      raid.Name,
		Zone:      raid.Zone,
		StartedAt: raid.StartedAt.UTC(),
		EndedAt:   raid.EndedAt.UTC(),
		Ticks:     make([]Tick, 0, len(raid.Calls)),
		Items:     make([]Item, 0, len(raid.Spends)),
	}

	classes := make(map[string]string)
	for _, call := range raid.Calls {
		info.Ticks = append(info.Ticks, Tick{
			Name:       call.Name,
			Type:       string(call.CallType),
			Timestamp:  call.Timestamp.UTC(),
			Characters: call.Names(),
		})
		for _, p := range call.Players {
			if p.Class != "" {
				classes[p.Name] = p.Class
			}
		}
	}

	// Ratios are cached per account and window
	ratios := make(map[string]float64)
	for _, spend := range raid.Spends {
		account := roster.AccountOf(spend.Character)
		class := classes[domain.NormalizeName(spend.Character)]
		if c, ok := roster.Lookup(spend.Character); ok && c.Class != "" {
			class = c.Class
		}

		item := Item{
			Character:      spend.Character,
			Account:        account,
			Item:           spend.Item,
			Cost:           spend.Amount,
			DiscountedCost: spend.Amount,
			Timestamp:      spend.Timestamp.UTC(),
		}
		if spend.Call != nil {
			item.Tick = spend.Call.Name
		}

		rule, err := b.match(ctx, class, account, raid.EndedAt, ratios)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			item.Discount = rule.Name
			item.DiscountedCost = discounted(spend.Amount, rule.Multiplier)
		}
		info.Items = append(info.Items, item)
	}
	return info, nil
}

// match returns the first rule the character qualifies for
func (b *Builder) match(ctx context.Context, class, account string, end time.Time, ratios map[string]float64) (*config.DiscountConfig, error) {
	for i := range b.rules {
		rule := &b.rules[i]
		if len(rule.Classes) > 0 && !slices.ContainsFunc(rule.Classes, func(c string) bool {
			return strings.EqualFold(c, class)
		}) {
			continue
		}
		if rule.MinAttendance > 0 {
			if b.attendance == nil {
				continue
			}
			key := account + "|" + rule.Window.String()
			ratio, ok := ratios[key]
			if !ok {
				var err error
				ratio, err = b.attendance.AttendanceRatio(ctx, account, end.Add(-rule.Window), end)
				if err != nil {
					return nil, fmt.Errorf("attendance for %s: %w", account, err)
				}
				ratios[key] = ratio
			}
			if ratio < rule.MinAttendance {
				continue
			}
		}
		return rule, nil
	}
	return nil, nil
}

func discounted(cost int, multiplier float64) int {
	v := int(math.Round(float64(cost) * multiplier))
	if v < 0 {
		return 0
	}
	return v
}
