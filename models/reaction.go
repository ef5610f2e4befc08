package models

import (
	"fmt"
	"slices"
)

type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionLove  ReactionType = "love"
	ReactionLaugh ReactionType = "laugh"
	ReactionAngry ReactionType = "angry"
)

// ReactionTypes lists every type in display order.
var ReactionTypes = []ReactionType{ReactionLike, ReactionLove, ReactionLaugh, ReactionAngry}

func ParseReactionType(s string) (ReactionType, error) {
	t := ReactionType(s)
	if !slices.Contains(ReactionTypes, t) {
		return "", fmt.Errorf("unknown reaction type %q", s)
	}
	return t, nil
}

// ReactionState is the set of users holding one reaction type on one entity.
// Count always equals len(Users). Stores may append in arrival order, so
// copies are re-sorted before any set operation.
type ReactionState struct {
	Users []string `bson:"users" json:"users"`
	Count int      `bson:"count" json:"count"`
}

func (s ReactionState) Has(userID string) bool {
	return slices.Contains(s.Users, userID)
}

func (s ReactionState) clone() ReactionState {
	users := make([]string, len(s.Users))
	copy(users, s.Users)
	slices.Sort(users)
	return ReactionState{Users: users, Count: len(users)}
}

// Reactions maps each reaction type to its state on one post or comment.
type Reactions map[ReactionType]ReactionState

// Toggle adds userID to the set for t, or removes it if already present.
// The receiver is not modified; the returned map is a fresh copy.
// Reaction types are independent: holding "like" says nothing about "love".
func (r Reactions) Toggle(t ReactionType, userID string) (Reactions, ReactionState) {
	next := r.Snapshot()
	state := next[t].clone()

	i, found := slices.BinarySearch(state.Users, userID)
	if found {
		state.Users = slices.Delete(state.Users, i, i+1)
	} else {
		state.Users = slices.Insert(state.Users, i, userID)
	}
	state.Count = len(state.Users)

	next[t] = state
	return next, state
}

// Snapshot returns a deep copy, safe to hand to events and responses.
func (r Reactions) Snapshot() Reactions {
	out := make(Reactions, len(r))
	for t, s := range r {
		out[t] = s.clone()
	}
	return out
}

// Normalize returns a copy with every known type present, so clients can
// render zero-count buttons.
func (r Reactions) Normalize() Reactions {
	out := r.Snapshot()
	for _, t := range ReactionTypes {
		if _, ok := out[t]; !ok {
			out[t] = ReactionState{Users: []string{}}
		}
	}
	return out
}

// Count returns the number of users holding t.
func (r Reactions) Count(t ReactionType) int {
	return r[t].Count
}
