package accounts

import (
	"errors"
	"fmt"
)

// GeneratedNumber is the wildcard a caller passes to have a phone number
// picked automatically.
const GeneratedNumber = "####"

const maxPhoneNumber = 9999

// Numbers reserved for emergency-style dialing patterns, never assigned.
var restrictedNumbers = map[string]struct{}{
	"4911": {},
	"9911": {},
}

// ErrNumbersExhausted is returned when every assignable four digit number is
// taken.
var ErrNumbersExhausted = errors.New("phone number generation has been exhausted")

// numberGenerator returns a function yielding free four digit numbers in
// ascending order, skipping taken and restricted ones. The taken set is a
// snapshot; collisions from concurrent assignment are handled by the caller
// retrying with the next candidate.
func numberGenerator(taken []string) func() (string, error) {
	used := make(map[string]struct{}, len(taken))
	for _, n := range taken {
		used[n] = struct{}{}
	}
	next := 0
	return func() (string, error) {
		for ; next <= maxPhoneNumber; next++ {
			num := fmt.Sprintf("%04d", next)
			if _, ok := used[num]; ok {
				continue
			}
			if _, ok := restrictedNumbers[num]; ok {
				continue
			}
			next++
			return num, nil
		}
		return "", ErrNumbersExhausted
	}
}
