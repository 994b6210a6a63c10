// Package pending keeps Telegram users waiting for an admin to grant access.
package pending

import (
	"fmt"
	"sort"
	"sync"

	"mingling-chat/internal/auth"
)

// Queue holds access requests. Persistence is optional and reuses the
// allowlist repository format.
type Queue struct {
	repo auth.Repository

	mu    sync.Mutex
	users map[int64]auth.User
}

func NewQueue(repo auth.Repository) (*Queue, error) {
	q := &Queue{repo: repo, users: make(map[int64]auth.User)}
	if repo != nil {
		users, err := repo.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("load pending: %w", err)
		}
		for _, u := range users {
			q.users[u.ID] = u
		}
	}
	return q, nil
}

// Request enqueues u. It reports false if u was already waiting.
func (q *Queue) Request(u auth.User) (bool, error) {
	q.mu.Lock()
	_, exists := q.users[u.ID]
	q.users[u.ID] = u
	q.mu.Unlock()
	if exists {
		return false, nil
	}
	if q.repo != nil {
		if err := q.repo.Upsert(u); err != nil {
			return true, fmt.Errorf("persist pending user %d: %w", u.ID, err)
		}
	}
	return true, nil
}

// Take removes and returns the request for userID.
func (q *Queue) Take(userID int64) (auth.User, bool, error) {
	q.mu.Lock()
	u, ok := q.users[userID]
	delete(q.users, userID)
	q.mu.Unlock()
	if !ok {
		return auth.User{}, false, nil
	}
	if q.repo != nil {
		if err := q.repo.Remove(userID); err != nil {
			return u, true, fmt.Errorf("drop pending user %d: %w", userID, err)
		}
	}
	return u, true, nil
}

func (q *Queue) List() []auth.User {
	q.mu.Lock()
	out := make([]auth.User, 0, len(q.users))
	for _, u := range q.users {
		out = append(out, u)
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
