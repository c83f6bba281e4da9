package compose

import "strings"

// DefaultUserName is used when a user has no display name on file.
const DefaultUserName = "Hydration Champion"

// Fallback renders the local template for label. It is pure.
func Fallback(userName, label string) string {
	name := strings.TrimSpace(userName)
	if name == "" {
		name = DefaultUserName
	}
	switch {
	case strings.Contains(label, "25%"):
		return name + ", you're 25% of the way to your hydration goal! Keep it up!"
	case strings.Contains(label, "50%"):
		return name + ", halfway there! You've reached 50% of your daily water goal."
	case strings.Contains(label, "75%"):
		return name + ", you're 75% done! Almost at your daily hydration goal!"
	case strings.Contains(label, "100%"), strings.Contains(label, "goal completion"):
		return "Great job " + name + "! You've completed your daily hydration goal!"
	default:
		return name + ", remember to stay hydrated throughout your day!"
	}
}
