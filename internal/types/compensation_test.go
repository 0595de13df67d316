package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch_Overlaps(t *testing.T) {
	abc := &Match{Participants: []string{"A", "B", "C"}}

	tests := []struct {
		name  string
		other []string
		want  bool
	}{
		{"Disjoint", []string{"D", "E", "F"}, false},
		{"SharedMember", []string{"C", "D", "E"}, true},
		{"Same", []string{"A", "B", "C"}, true},
		{"Empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := &Match{Participants: tt.other}
			assert.Equal(t, tt.want, abc.Overlaps(other))
			assert.Equal(t, tt.want, other.Overlaps(abc))
		})
	}
}
