package models

import "github.com/SherClockHolmes/webpush-go"

// PushSubscription is a browser push endpoint registered by one user.
type PushSubscription struct {
	UserID string               `bson:"userId" json:"userId"`
	Sub    webpush.Subscription `bson:"sub" json:"sub"`
}
