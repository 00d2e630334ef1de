package models

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IssueCategory enum
type IssueCategory string

const (
	Road    IssueCategory = "road"
	Garbage IssueCategory = "garbage"
	Flood   IssueCategory = "flood"
	Light   IssueCategory = "light"
)

// Categories lists every category in display order.
var Categories = []IssueCategory{Road, Garbage, Flood, Light}

// Valid reports whether c is one of the known categories.
func (c IssueCategory) Valid() bool {
	switch c {
	case Road, Garbage, Flood, Light:
		return true
	}
	return false
}

// IssueStatus enum
type IssueStatus string

const (
	Pending    IssueStatus = "pending"
	Verified   IssueStatus = "verified"
	InProgress IssueStatus = "in_progress"
	Fixed      IssueStatus = "fixed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []IssueStatus{Pending, Verified, InProgress, Fixed}

// Valid reports whether s is one of the known statuses.
func (s IssueStatus) Valid() bool {
	switch s {
	case Pending, Verified, InProgress, Fixed:
		return true
	}
	return false
}

// CoordinatePrecision is the number of decimal places kept for latitude and longitude.
const CoordinatePrecision = 8

// RoundCoordinate truncates v to CoordinatePrecision decimal places, rounding half away from zero.
func RoundCoordinate(v float64) float64 {
	p := math.Pow10(CoordinatePrecision)
	return math.Round(v*p) / p
}

// Issue represents a municipal issue reported by a citizen.
//
// Status, Version and StatusChangedAt are only written by the transition
// engine. UserID never changes after creation.
type Issue struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title           string             `bson:"title" json:"title"`
	Description     string             `bson:"description" json:"description"`
	Category        IssueCategory      `bson:"category" json:"category"`
	Status          IssueStatus        `bson:"status" json:"status"`
	Latitude        float64            `bson:"latitude" json:"latitude"`
	Longitude       float64            `bson:"longitude" json:"longitude"`
	Address         string             `bson:"address" json:"address"`
	PhotoKey        *string            `bson:"photoKey,omitempty" json:"photoKey,omitempty"`
	UserID          primitive.ObjectID `bson:"userId" json:"userId"`
	Version         int64              `bson:"version" json:"version"`
	StatusChangedAt *time.Time         `bson:"statusChangedAt,omitempty" json:"statusChangedAt,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// HasPhoto reports whether a stored photo is attached to the issue.
func (i *Issue) HasPhoto() bool {
	return i.PhotoKey != nil && *i.PhotoKey != ""
}
