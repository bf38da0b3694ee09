package models

import (
	"sort"
	"time"
)

// User is the logged-in mentor as returned by the school API. Replaced
// wholesale on login, never mutated in place.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LastName string `json:"lastName,omitempty"`
	Role     string `json:"role"`
}

// Feedback is a historical rating embedded in an intern record. The server
// filters the pending list by itself, so the agent only carries these for
// display; it never derives "already rated" from them.
type Feedback struct {
	MentorID string    `json:"mentorId"`
	Stars    int       `json:"stars"`
	Feedback string    `json:"feedback,omitempty"`
	Date     time.Time `json:"date"`
}

// PendingReviewItem is one intern+lesson pair awaiting a rating from the
// current mentor.
type PendingReviewItem struct {
	InternID            string     `json:"internId"`
	LessonID            string     `json:"lessonId"`
	Name                string     `json:"name"`
	LastName            string     `json:"lastName"`
	Branch              string     `json:"branch"`
	Topic               string     `json:"topic"`
	Group               string     `json:"group"`
	ScheduledTime       time.Time  `json:"scheduledTime"`
	Grade               string     `json:"grade"`
	Score               int        `json:"score"`
	LessonsVisitedCount int        `json:"lessonsVisitedCount"`
	Feedbacks           []Feedback `json:"feedbacks"`
}

// RuleCategory classifies conduct rules by severity.
type RuleCategory string

const (
	RuleCategoryGreen  RuleCategory = "green"
	RuleCategoryYellow RuleCategory = "yellow"
	RuleCategoryRed    RuleCategory = "red"
	RuleCategoryBlack  RuleCategory = "black"
	RuleCategoryOther  RuleCategory = "other"
)

// ruleCategoryRank fixes the display precedence of rule categories.
var ruleCategoryRank = map[RuleCategory]int{
	RuleCategoryGreen:  0,
	RuleCategoryYellow: 1,
	RuleCategoryRed:    2,
	RuleCategoryBlack:  3,
	RuleCategoryOther:  4,
}

// Rank returns the sort position of the category. Unknown categories sort
// after "other".
func (c RuleCategory) Rank() int {
	if rank, ok := ruleCategoryRank[c]; ok {
		return rank
	}
	return len(ruleCategoryRank)
}

// Rule is a read-only conduct rule selectable as a violation while rating.
type Rule struct {
	ID          string       `json:"id"`
	Category    RuleCategory `json:"category"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
}

// SortRules orders rules by category precedence (green, yellow, red, black,
// other), keeping the server's order within a category.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Category.Rank() < rules[j].Category.Rank()
	})
}

// RatingSubmission is a single rating for one pending review item. Built per
// card, sent once, then discarded.
type RatingSubmission struct {
	InternID     string   `json:"internId" validate:"required"`
	LessonID     string   `json:"lessonId,omitempty"`
	Stars        int      `json:"stars" validate:"required,min=1,max=5"`
	Feedback     string   `json:"feedback,omitempty" validate:"max=500"`
	ViolationIDs []string `json:"violationIds"`
}

// PushSubscriptionKeys holds the client keys of a push subscription,
// base64url-encoded without padding.
type PushSubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is the endpoint+keys pair the push service delivers to.
type PushSubscription struct {
	Endpoint string               `json:"endpoint"`
	Keys     PushSubscriptionKeys `json:"keys"`
}

// PushSubscribeRequest registers a subscription with the school API.
type PushSubscribeRequest struct {
	Subscription PushSubscription `json:"subscription"`
	UserID       string           `json:"userId"`
	UserType     string           `json:"userType"`
}
