// Package access decides which chats the bot answers in.
package access

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const Wildcard = "*"

var ErrInvalidID = errors.New("invalid id in allow list")

type ChatKind int

const (
	Unknown ChatKind = iota
	Private
	Group
	SuperGroup
	Channel
)

// KindOf maps a Telegram chat type to a ChatKind.
func KindOf(chatType string) ChatKind {
	switch chatType {
	case "private":
		return Private
	case "group":
		return Group
	case "supergroup":
		return SuperGroup
	case "channel":
		return Channel
	}
	return Unknown
}

func (k ChatKind) String() string {
	switch k {
	case Private:
		return "private"
	case Group:
		return "group"
	case SuperGroup:
		return "supergroup"
	case Channel:
		return "channel"
	}
	return "unknown"
}

// List is either the wildcard or an explicit set of ids.
type List struct {
	Any bool
	IDs map[int64]struct{}
}

// ParseList reads "*" or a comma separated list of ids. Blank input is the
// empty list.
func ParseList(s string) (List, error) {
	s = strings.TrimSpace(s)
	if s == Wildcard {
		return List{Any: true}, nil
	}
	l := List{IDs: make(map[int64]struct{})}
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return List{}, errors.Wrapf(ErrInvalidID, "%q", field)
		}
		l.IDs[id] = struct{}{}
	}
	return l, nil
}

func (l List) Has(id int64) bool {
	_, ok := l.IDs[id]
	return ok
}

func (l List) String() string {
	if l.Any {
		return Wildcard
	}
	ids := make([]string, 0, len(l.IDs))
	for id := range l.IDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return strings.Join(ids, ",")
}

type Policy struct {
	Users List
	Chats List
}

func NewPolicy(users, chats string) (Policy, error) {
	u, err := ParseList(users)
	if err != nil {
		return Policy{}, errors.Wrap(err, "allowed user ids")
	}
	c, err := ParseList(chats)
	if err != nil {
		return Policy{}, errors.Wrap(err, "allowed chat ids")
	}
	return Policy{Users: u, Chats: c}, nil
}

// Allowed reports whether a message from requester in chat may be handled.
// A wildcard only opens the chat kind it belongs to: users cover private
// chats, chats cover groups. Explicit chat ids also cover supergroups.
func (p Policy) Allowed(requester, chat int64, kind ChatKind) bool {
	if p.Users.Any && kind == Private {
		return true
	}
	if p.Chats.Any && kind == Group {
		return true
	}
	if kind == Private && p.Users.Has(requester) {
		return true
	}
	return (kind == Group || kind == SuperGroup) && p.Chats.Has(chat)
}
