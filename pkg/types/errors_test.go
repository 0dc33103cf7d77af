package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type named string

func (n named) String() string { return string(n) }

func TestErrorIsMatchesKind(t *testing.T) {
	err := NewError(KindConversionUnavailable).
		Op("find path").
		Types(named("int32le"), named("float64le")).
		Build()

	assert.ErrorIs(t, err, ErrConversionUnavailable)
	assert.NotErrorIs(t, err, ErrCommitFailure)
	assert.Equal(t, "find path: conversion_unavailable (int32le -> float64le)", err.Error())
}

func TestErrorUnwrapsCause(t *testing.T) {
	err := NewError(KindCommitFailure).
		Op("commit").
		At(Address(64)).
		Wrap(ErrLinkExists).
		Build()

	assert.ErrorIs(t, err, ErrCommitFailure)
	assert.ErrorIs(t, err, ErrLinkExists)
	assert.Contains(t, err.Error(), "at @64")

	wrapped := fmt.Errorf("outer: %w", err)
	var target *Error
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, KindCommitFailure, target.Kind)
}

func TestErrorDetail(t *testing.T) {
	err := NewError(KindInvalid).Detail("size %d too small", 2).Build()
	assert.Equal(t, "invalid: size 2 too small", err.Error())
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "@undef", UndefAddress.String())
	assert.Equal(t, "@12", Address(12).String())
}

func TestObjectHeaderClone(t *testing.T) {
	h := &ObjectHeader{
		Kind:       ObjectDataset,
		Type:       &DatatypeMessage{Encoded: []byte("x"), Committed: 8},
		Attributes: []Attribute{{Name: "a", Type: DatatypeMessage{Encoded: []byte("y"), Committed: UndefAddress}}},
		Links:      []Link{{Name: "l", Addr: 4}},
	}
	c := h.Clone()
	c.Type.Encoded[0] = 'z'
	c.Attributes[0].Type.Encoded[0] = 'z'
	c.Links[0].Name = "m"

	assert.Equal(t, byte('x'), h.Type.Encoded[0])
	assert.Equal(t, byte('y'), h.Attributes[0].Type.Encoded[0])
	assert.Equal(t, "l", h.Links[0].Name)
	assert.True(t, c.Type.IsCommitted())
	assert.False(t, c.Attributes[0].Type.IsCommitted())
}
