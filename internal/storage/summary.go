package storage

import (
	"sort"

	"github.com/chatrelay/internal/model"
)

// SortSummaries orders chats newest first; ties by ChatID for a stable listing.
func SortSummaries(s []model.ChatSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].UpdatedAt.After(s[j].UpdatedAt)
		}
		return s[i].ChatID < s[j].ChatID
	})
}
