package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the minimal identity profile resolved during authentication.
// Customers and drivers live in one collection, distinguished by Role, so a
// participant reference resolves with a single lookup.
type User struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	FullName     string             `json:"fullName" bson:"full_name"`
	Email        string             `json:"email" bson:"email"`
	PhoneNumber  string             `json:"phoneNumber" bson:"phone_number"`
	ProfilePhoto string             `json:"profilePhoto" bson:"profile_photo"`
	Role         string             `json:"role" bson:"role"`
	IsActive     bool               `json:"isActive" bson:"is_active"`
	CreatedAt    time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt    *time.Time         `json:"updatedAt" bson:"updated_at"`
}

// AsParticipant denormalizes the profile into a conversation participant
// entry with the given role tag.
func (u *User) AsParticipant() Participant {
	return Participant{
		UserID:       u.ID.Hex(),
		Role:         u.Role,
		FullName:     u.FullName,
		ProfilePhoto: u.ProfilePhoto,
	}
}
