package state

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		name    string
		since   string
		lowest  int64
		highest int64
		want    Comparison
	}{
		{"equal to highest", "200", 100, 200, InSync},
		{"fresh account", "0", 0, 0, InSync},
		{"inside window", "150", 100, 200, Okay},
		{"at lowest", "100", 100, 200, Okay},
		{"below window", "50", 100, 200, Resync},
		{"ahead of server", "201", 100, 200, Bogus},
		{"not a number", "abc", 100, 200, Bogus},
		{"negative", "-1", 100, 200, Bogus},
		{"empty", "", 100, 200, Bogus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.since, tt.lowest, tt.highest)
			if got != tt.want {
				t.Errorf("Compare(%q, %d, %d) = %v, want %v",
					tt.since, tt.lowest, tt.highest, got, tt.want)
			}
		})
	}
}
