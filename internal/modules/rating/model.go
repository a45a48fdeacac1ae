// README: Rating of a completed booking and the provider reputation derived from all ratings.
package rating

import (
	"math"
	"time"

	"quickassist/internal/types"
)

const (
	MinScore = 1
	MaxScore = 5
)

type Rating struct {
	ID        int64     `json:"id"`
	BookingID types.ID  `json:"booking_id"`
	RaterID   types.ID  `json:"rater_id"`
	RateeID   types.ID  `json:"ratee_id"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// Reputation is the arithmetic mean of scores rounded to two decimals. It is
// recomputed from every rating each time, never updated incrementally.
func Reputation(scores []int) (float64, bool) {
	if len(scores) == 0 {
		return 0, false
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return math.Round(float64(sum)*100/float64(len(scores))) / 100, true
}
