package domain

import "time"

type StatsEventType string

const (
	StatsInterestAccepted StatsEventType = "interest_accepted"
	StatsListingCreated   StatsEventType = "listing_created"
	StatsListingDeleted   StatsEventType = "listing_deleted"
)

type StatsEvent struct {
	Type      StatsEventType
	ListingID string
	OwnerUID  string
	BuyerUID  string
	At        time.Time
}

type StatsDelta struct {
	TotalPosts     int64
	TotalSold      int64
	TotalPurchased int64
}

func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}

type UserStats struct {
	TotalPosts     int64 `json:"totalPosts"`
	TotalSold      int64 `json:"totalSold"`
	TotalPurchased int64 `json:"totalPurchased"`
}

// Deltas maps an event to the per-user counter changes it causes.
func (e StatsEvent) Deltas() map[string]StatsDelta {
	out := make(map[string]StatsDelta, 2)
	switch e.Type {
	case StatsInterestAccepted:
		if e.BuyerUID != "" {
			out[e.BuyerUID] = out[e.BuyerUID].add(StatsDelta{TotalPurchased: 1})
		}
		if e.OwnerUID != "" {
			out[e.OwnerUID] = out[e.OwnerUID].add(StatsDelta{TotalSold: 1})
		}
	case StatsListingCreated:
		if e.OwnerUID != "" {
			out[e.OwnerUID] = StatsDelta{TotalPosts: 1}
		}
	case StatsListingDeleted:
		if e.OwnerUID != "" {
			out[e.OwnerUID] = StatsDelta{TotalPosts: -1}
		}
	}
	return out
}

func (d StatsDelta) add(o StatsDelta) StatsDelta {
	return StatsDelta{
		TotalPosts:     d.TotalPosts + o.TotalPosts,
		TotalSold:      d.TotalSold + o.TotalSold,
		TotalPurchased: d.TotalPurchased + o.TotalPurchased,
	}
}

// Apply adds d to s, flooring every counter at zero.
func (s UserStats) Apply(d StatsDelta) UserStats {
	return UserStats{
		TotalPosts:     floor0(s.TotalPosts + d.TotalPosts),
		TotalSold:      floor0(s.TotalSold + d.TotalSold),
		TotalPurchased: floor0(s.TotalPurchased + d.TotalPurchased),
	}
}

func floor0(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
