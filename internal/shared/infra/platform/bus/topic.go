package bus

import "strings"

// MatchTopic aplica la semántica de un topic exchange:
// '*' sustituye exactamente una palabra y '#' cero o más.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

// MatchAny indica si alguno de los bindings acepta la routing key.
func MatchAny(patterns []string, routingKey string) bool {
	for _, p := range patterns {
		if MatchTopic(p, routingKey) {
			return true
		}
	}
	return false
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
