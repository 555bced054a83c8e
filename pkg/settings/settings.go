// Package settings holds the runtime flags consulted before every reply.
//
// Two independent switches gate replies: the botActive setting and the
// bot-enabled toggle. They are never reconciled; a reply is attempted only
// when both are on. Each flag is atomic on its own, with no transactional
// read across flags.
package settings

import "sync/atomic"

// Settings is a point-in-time copy of the runtime flags.
type Settings struct {
	SavageMode bool `json:"savageMode"`
	AutoReply  bool `json:"autoReply"`
	BotActive  bool `json:"botActive"`
}

// Update is a partial settings write. Nil fields are left unchanged.
type Update struct {
	SavageMode *bool
	AutoReply  *bool
	BotActive  *bool
}

// Store owns the mutable flags. The zero value has every flag off; use New
// for the production defaults.
type Store struct {
	savageMode atomic.Bool
	autoReply  atomic.Bool
	botActive  atomic.Bool
	botEnabled atomic.Bool
}

// New returns a store with every flag on.
func New() *Store {
	s := &Store{}
	s.savageMode.Store(true)
	s.autoReply.Store(true)
	s.botActive.Store(true)
	s.botEnabled.Store(true)
	return s
}

func (s *Store) Get() Settings {
	return Settings{
		SavageMode: s.savageMode.Load(),
		AutoReply:  s.autoReply.Load(),
		BotActive:  s.botActive.Load(),
	}
}

// Apply writes every non-nil field of u and returns the merged settings.
func (s *Store) Apply(u Update) Settings {
	if u.SavageMode != nil {
		s.savageMode.Store(*u.SavageMode)
	}
	if u.AutoReply != nil {
		s.autoReply.Store(*u.AutoReply)
	}
	if u.BotActive != nil {
		s.botActive.Store(*u.BotActive)
	}
	return s.Get()
}

func (s *Store) BotActive() bool { return s.botActive.Load() }

func (s *Store) BotEnabled() bool { return s.botEnabled.Load() }

func (s *Store) SetBotEnabled(enabled bool) { s.botEnabled.Store(enabled) }

// RepliesEnabled reports whether the pipeline may call the completion
// service: botActive AND the bot-enabled toggle.
func (s *Store) RepliesEnabled() bool {
	return s.botActive.Load() && s.botEnabled.Load()
}
