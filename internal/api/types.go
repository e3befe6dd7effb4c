package api

import "time"

// Counts mirrors GET /notifications/counts.
type Counts struct {
	Total  int            `json:"total"`
	Unread int            `json:"unread"`
	ByType map[string]int `json:"byType"`
}

// Notification mirrors one stored server-side notification.
type Notification struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Subtitle  string                 `json:"subtitle,omitempty"`
	Message   string                 `json:"message"`
	Priority  string                 `json:"priority,omitempty"`
	IsRead    bool                   `json:"isRead"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Pagination mirrors the server's list pagination envelope.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NotificationPage mirrors GET /notifications.
type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	Pagination    Pagination     `json:"pagination"`
}

// Conversation mirrors GET /conversations entries.
type Conversation struct {
	ID              string    `json:"id"`
	UnreadCount     int       `json:"unreadCount"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	Store           Party     `json:"store"`
}

// Party identifies the counterparty shown on a conversation or offer.
type Party struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Verified bool    `json:"verified"`
	Rating   float64 `json:"rating"`
}

// Offer mirrors GET /offers/pending entries.
type Offer struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Amount        float64   `json:"amount"`
	Counterparty  Party     `json:"counterparty"`
	QuickResponse bool      `json:"quickResponse"`
	CreatedAt     time.Time `json:"createdAt"`
}
