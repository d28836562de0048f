package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentCorrupted(t *testing.T) {
	cases := []struct {
		name string
		sess ChatSession
		want bool
	}{
		{"no agent", ChatSession{ID: "s1"}, false},
		{"valid agent", ChatSession{ID: "s1", AssignedAgent: &AgentRef{ID: "a1"}}, false},
		{"empty agent id", ChatSession{ID: "s1", AssignedAgent: &AgentRef{}}, true},
		{"session id in agent slot", ChatSession{ID: "s1", AssignedAgent: &AgentRef{ID: "s1"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.sess.AgentCorrupted())
		})
	}
}
