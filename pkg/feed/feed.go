package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/decision-zk/decisiond/pkg/store"
)

// Item type tags, carried in the JSON the clients consume.
const (
	TypeDilemma  = "dilemma"
	TypePaidPost = "paid_post"
)

// DilemmaStatus is the lifecycle of a votable item. Pass and Fail are
// terminal: no further voting or detail entry.
type DilemmaStatus string

const (
	DilemmaActive DilemmaStatus = "Active"
	DilemmaPass   DilemmaStatus = "Pass"
	DilemmaFail   DilemmaStatus = "Fail"
)

// Comment is one entry in an item's append-only comment list.
type Comment struct {
	ID     int    `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
	Time   string `json:"time"`
	Status string `json:"status,omitempty"`
}

// Dilemma is a votable governance item.
type Dilemma struct {
	Type         string        `json:"type"`
	ID           int           `json:"id"`
	Title        string        `json:"title"`
	Desc         string        `json:"desc"`
	Votes        int           `json:"votes"`
	Status       DilemmaStatus `json:"status"`
	Options      []string      `json:"options,omitempty"`
	Category     string        `json:"category,omitempty"`
	TimeLeft     string        `json:"timeLeft,omitempty"`
	PrivacyLevel string        `json:"privacyLevel,omitempty"`
	Participants int           `json:"participants,omitempty"`
	Comments     []Comment     `json:"comments"`

	// UserChoice is filled per-viewer from the state store.
	UserChoice string `json:"userChoice,omitempty"`
}

// PaidPost is a content item gated behind a one-time unlock payment.
type PaidPost struct {
	Type          string    `json:"type"`
	ID            int       `json:"id"`
	Title         string    `json:"title"`
	Teaser        string    `json:"teaser"`
	HiddenContent string    `json:"hiddenContent,omitempty"`
	Price         int       `json:"price"`
	Unlocked      bool      `json:"isUnlocked"`
	Author        string    `json:"author"`
	Comments      []Comment `json:"comments"`
}

// Item is the feed union: exactly one of Dilemma or PaidPost is set.
type Item struct {
	Dilemma  *Dilemma
	PaidPost *PaidPost
}

// ID returns the item's id regardless of kind.
func (it Item) ID() int {
	if it.Dilemma != nil {
		return it.Dilemma.ID
	}
	if it.PaidPost != nil {
		return it.PaidPost.ID
	}
	return 0
}

func (it Item) MarshalJSON() ([]byte, error) {
	if it.Dilemma != nil {
		return json.Marshal(it.Dilemma)
	}
	if it.PaidPost != nil {
		return json.Marshal(it.PaidPost)
	}
	return []byte("null"), nil
}

var (
	ErrNotFound    = errors.New("feed item not found")
	ErrClosed      = errors.New("dilemma is closed")
	ErrNotDilemma  = errors.New("feed item is not a dilemma")
	ErrNotPaidPost = errors.New("feed item is not a paid post")
)

// Service holds the in-memory feed. Votes and unlock flags live in the
// per-address state store; the feed itself carries the shared tallies and
// content, and views are personalized on read.
type Service struct {
	mu     sync.RWMutex
	items  []Item
	nextID int
	nextCm int
	st     *store.Store
}

// NewService builds a service over the given state store, pre-populated
// with the demo feed.
func NewService(st *store.Store) *Service {
	s := &Service{st: st, nextID: 1, nextCm: 1000}
	for _, it := range seedItems() {
		s.insert(it)
	}
	return s
}

// insert appends without locking; used during construction and by callers
// already holding the lock.
func (s *Service) insert(it Item) {
	if id := it.ID(); id >= s.nextID {
		s.nextID = id + 1
	}
	s.items = append(s.items, it)
}

// Items returns the feed personalized for the viewing address: unlock flags
// and the viewer's own vote choices are reconciled from the state store.
// Pass an empty address for the anonymous view.
func (s *Service) Items(address string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		switch {
		case it.Dilemma != nil:
			d := *it.Dilemma
			if address != "" {
				if v, ok := s.st.Vote(address, fmt.Sprint(d.ID)); ok {
					d.UserChoice = v.Choice
				}
			}
			out = append(out, Item{Dilemma: &d})
		case it.PaidPost != nil:
			p := *it.PaidPost
			p.Unlocked = p.Unlocked || (address != "" && s.st.Unlocked(address, fmt.Sprint(p.ID)))
			if !p.Unlocked {
				// Gated content never leaves the server locked.
				p.HiddenContent = ""
			}
			out = append(out, Item{PaidPost: &p})
		}
	}
	return out
}

// Dilemma returns the dilemma with the given id. Closed dilemmas are
// returned (history stays visible in the feed) but flagged by CheckVotable.
func (s *Service) Dilemma(id int) (*Dilemma, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.Dilemma != nil && it.Dilemma.ID == id {
			d := *it.Dilemma
			return &d, nil
		}
	}
	for _, it := range s.items {
		if it.PaidPost != nil && it.PaidPost.ID == id {
			return nil, ErrNotDilemma
		}
	}
	return nil, ErrNotFound
}

// Post returns the paid post with the given id.
func (s *Service) Post(id int) (*PaidPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.PaidPost != nil && it.PaidPost.ID == id {
			p := *it.PaidPost
			return &p, nil
		}
	}
	for _, it := range s.items {
		if it.Dilemma != nil && it.Dilemma.ID == id {
			return nil, ErrNotPaidPost
		}
	}
	return nil, ErrNotFound
}

// CheckVotable verifies the id names a dilemma that is still open.
func (s *Service) CheckVotable(id int) error {
	d, err := s.Dilemma(id)
	if err != nil {
		return err
	}
	if d.Status != DilemmaActive {
		return ErrClosed
	}
	return nil
}

// ApplyVote bumps the tally once a vote transaction was accepted for
// submission. Re-votes do not bump twice; the caller passes revote when the
// viewer already had a stored choice.
func (s *Service) ApplyVote(id int, revote bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.Dilemma == nil || it.Dilemma.ID != id {
			continue
		}
		if it.Dilemma.Status != DilemmaActive {
			return ErrClosed
		}
		if !revote {
			it.Dilemma.Votes++
			it.Dilemma.Participants++
		}
		return nil
	}
	return ErrNotFound
}

// CreateDilemma appends a new open dilemma and returns it.
func (s *Service) CreateDilemma(title, desc, category string, options []string) *Dilemma {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Dilemma{
		Type:         TypeDilemma,
		ID:           s.nextID,
		Title:        title,
		Desc:         desc,
		Status:       DilemmaActive,
		Options:      options,
		Category:     category,
		TimeLeft:     "72h",
		PrivacyLevel: "ZK-Max",
		Comments:     []Comment{},
	}
	s.insert(Item{Dilemma: d})
	out := *d
	return &out
}

// CreatePost appends a new paid post. The author sees their own content;
// everyone else pays.
func (s *Service) CreatePost(title, teaser, hidden string, price int, author string) *PaidPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &PaidPost{
		Type:          TypePaidPost,
		ID:            s.nextID,
		Title:         title,
		Teaser:        teaser,
		HiddenContent: hidden,
		Price:         price,
		Author:        author,
		Comments:      []Comment{},
	}
	s.insert(Item{PaidPost: p})
	out := *p
	return &out
}

// AddComment prepends a comment to the item's list (newest first). Closed
// dilemmas reject comments along with every other detail interaction.
func (s *Service) AddComment(id int, author, text, when string) (*Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		switch {
		case it.Dilemma != nil && it.Dilemma.ID == id:
			if it.Dilemma.Status != DilemmaActive {
				return nil, ErrClosed
			}
			c := s.newComment(author, text, when)
			it.Dilemma.Comments = append([]Comment{c}, it.Dilemma.Comments...)
			return &c, nil
		case it.PaidPost != nil && it.PaidPost.ID == id:
			c := s.newComment(author, text, when)
			it.PaidPost.Comments = append([]Comment{c}, it.PaidPost.Comments...)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Service) newComment(author, text, when string) Comment {
	id := s.nextCm
	s.nextCm++
	return Comment{ID: id, Author: author, Text: text, Time: when, Status: "Verified"}
}
