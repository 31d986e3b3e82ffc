package shipments

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const numberDateLayout = "20060102"

// dayPrefix returns the date component of a shipment number.
func dayPrefix(at time.Time) string {
	return at.UTC().Format(numberDateLayout)
}

// nextNumber builds the next `<date>-<seq>` shipment number after the highest
// sequence issued today.
func nextNumber(prefix string, highestSeq int) string {
	if highestSeq < 0 {
		highestSeq = 0
	}
	return fmt.Sprintf("%s-%d", prefix, highestSeq+1)
}

// bumpNumber increments the sequence of an already-built number, used when an
// insert collides with a concurrently issued number.
func bumpNumber(number string) string {
	idx := strings.LastIndex(number, "-")
	if idx < 0 {
		return number + "-1"
	}
	seq, err := strconv.Atoi(number[idx+1:])
	if err != nil {
		return number + "-1"
	}
	return fmt.Sprintf("%s-%d", number[:idx], seq+1)
}
