package model

import "time"

// NewsItem is one entry of the append-only news feed.  Seq is assigned
// on publish and strictly increases by one per item; subscribers rely
// on it for ordering and gap detection.
type NewsItem struct {
    Seq       int64     `json:"seq"`        // news_items.seq
    Timestamp time.Time `json:"timestamp"`  // news_items.published_at
    Content   string    `json:"content"`    // news_items.content
}
