package models

import (
	"encoding/json"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestSession_AllChosen(t *testing.T) {
	req := require.New(t)
	s := NewSession("s1", 1)

	// Given no participants
	req.False(s.AllChosen())

	// Given two participants and one choice
	s.Users["u1"] = &Participant{Name: "Ann", JoinedAt: 10}
	s.Users["u2"] = &Participant{Name: "Bo", JoinedAt: 20}
	s.Choices["u1"] = "3"
	req.False(s.AllChosen())

	// An empty string is still a choice
	s.Choices["u2"] = ""
	req.True(s.AllChosen())
}

func TestSession_ParticipantIDs_JoinOrder(t *testing.T) {
	s := NewSession("s1", 1)
	s.Users["zed"] = &Participant{JoinedAt: 5}
	s.Users["amy"] = &Participant{JoinedAt: 30}
	s.Users["bob"] = &Participant{JoinedAt: 5}

	require.Equal(t, []string{"bob", "zed", "amy"}, s.ParticipantIDs())
}

func TestSession_Clone_IsDeep(t *testing.T) {
	req := require.New(t)
	s := NewSession("s1", 1)
	s.Users["u1"] = &Participant{Name: "Ann", Color: lo.ToPtr("red"), JoinedAt: 10}
	s.Choices["u1"] = "3"

	c := s.Clone()
	c.Users["u1"].Name = "Changed"
	*c.Users["u1"].Color = "blue"
	c.Choices["u1"] = "8"

	req.Equal("Ann", s.Users["u1"].Name)
	req.Equal("red", *s.Users["u1"].Color)
	req.Equal("3", s.Choices["u1"])
}

func TestSession_JSONShape(t *testing.T) {
	req := require.New(t)
	s := NewSession("abc", 1700000000000)
	s.Users["u1"] = &Participant{Name: "Ann", Email: "ann@example.com", JoinedAt: 1700000000001}

	b, err := json.Marshal(s)
	req.NoError(err)
	req.JSONEq(`{
		"id": "abc",
		"users": {"u1": {"name": "Ann", "email": "ann@example.com", "joinedAt": 1700000000001}},
		"choices": {},
		"revealed": false,
		"createdAt": 1700000000000
	}`, string(b))

	var decoded Session
	req.NoError(json.Unmarshal([]byte(`{"id":"abc"}`), &decoded))
	decoded.Normalize()
	req.NotNil(decoded.Users)
	req.NotNil(decoded.Choices)
}
