package domain

// DisplayUser is how a person is shown on the overlay and stored in the queue snapshot.
type DisplayUser struct {
	Icon       *string `yaml:"icon" json:"userIcon"`
	Identifier *string `yaml:"identifier" json:"identifier"`
	Name       string  `yaml:"name" json:"name"`
}

// Presentation is one entry of the upcoming-talks queue.
type Presentation struct {
	Presenter DisplayUser `yaml:"presenter" json:"presenter"`
	Title     string      `yaml:"title" json:"title"`
}

// StringPtr returns nil for an empty string, otherwise a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
