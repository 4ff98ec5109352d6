package saved

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/karthikraju391/go-nats-chat-stream/models"
)

func TestStore_ApplyAndSubscribe(t *testing.T) {
	s := NewStore("alice")

	var got [][]string
	unsubscribe := s.Subscribe(func(ids []string) { got = append(got, ids) })

	s.Apply("m1", `["bob","alice"]`)
	s.Apply("m1", `["alice"]`) // no change, no notification
	s.Apply("m2", `["bob"]`)   // not saved by alice
	s.Apply("m3", `["alice"]`)
	s.Apply("m1", `[]`)

	assert.Equal(t, [][]string{{"m1"}, {"m1", "m3"}, {"m3"}}, got)
	assert.True(t, s.IsSaved("m3"))
	assert.False(t, s.IsSaved("m1"))

	unsubscribe()
	s.Apply("m4", `["alice"]`)
	assert.Len(t, got, 3)
	assert.Equal(t, []string{"m3", "m4"}, s.List())
}

func TestStore_MalformedLikedByUnsaves(t *testing.T) {
	s := NewStore("alice")
	s.Apply("m1", `["alice"]`)
	s.Apply("m1", `not json`)
	assert.False(t, s.IsSaved("m1"))
}

func TestStore_Seed(t *testing.T) {
	s := NewStore("alice")
	notified := false
	s.Subscribe(func([]string) { notified = true })

	s.Seed([]models.Message{
		{Name: "m1", LikedBy: `["alice"]`},
		{Name: "m2", LikedBy: `["bob"]`},
		{Name: "m3"},
	})

	assert.Equal(t, []string{"m1"}, s.List())
	assert.False(t, notified)
}
