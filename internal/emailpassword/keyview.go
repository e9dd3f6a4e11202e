// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/emailpassword/pkg/errutil"
)

// KeyView is the public form of a Key. It never carries the password hash.
type KeyView struct {
	Key       string         `json:"key" yaml:"key"`
	Action    KeyAction      `json:"action" yaml:"action"`
	Used      bool           `json:"used" yaml:"used"`
	Expire    time.Time      `json:"expire" yaml:"expire"`
	Email     string         `json:"email,omitempty" yaml:"email,omitempty"`
	OldEmail  string         `json:"oldEmail,omitempty" yaml:"oldEmail,omitempty"`
	NewEmail  string         `json:"newEmail,omitempty" yaml:"newEmail,omitempty"`
	User      ulid.ULID      `json:"user" yaml:"user"`
	UserData  map[string]any `json:"userData,omitempty" yaml:"userData,omitempty"`
	CreatedAt time.Time      `json:"createdAt" yaml:"createdAt"`
}

// ViewOf scrubs a Key for display.
func ViewOf(k *Key) KeyView {
	return KeyView{
		Key:       k.Key,
		Action:    k.Action,
		Used:      k.Used,
		Expire:    k.Expire,
		Email:     k.Email,
		OldEmail:  k.OldEmail,
		NewEmail:  k.NewEmail,
		User:      k.User,
		UserData:  k.UserData,
		CreatedAt: k.CreatedAt,
	}
}

func (s *Service) readKey(ctx context.Context, token string) (*Key, error) {
	k, err := s.keys.Get(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, errNotFound("key", "key")
	}
	if err != nil {
		return nil, oops.With("operation", "get key").Wrap(err)
	}
	return k, nil
}

// GetKey returns the scrubbed key for a token.
func (s *Service) GetKey(ctx context.Context, in KeyInput) (_ *KeyView, err error) {
	ctx, done := s.begin(ctx, "get_key")
	defer done(&err)

	if err := ValidateInput(&in); err != nil {
		return nil, err
	}
	k, err := s.readKey(ctx, in.Key)
	if err != nil {
		return nil, err
	}
	v := ViewOf(k)
	return &v, nil
}

// WatchKey streams the scrubbed key for a token: the current state first,
// then every change committed through this process. The channel is closed
// when ctx is done.
func (s *Service) WatchKey(ctx context.Context, in KeyInput) (<-chan KeyView, error) {
	if err := ValidateInput(&in); err != nil {
		return nil, err
	}
	if s.feed == nil {
		return nil, errInternal("change feed not configured")
	}

	k, err := s.readKey(ctx, in.Key)
	if err != nil {
		return nil, err
	}
	stream := EmailStream(k.Subject())
	sub := s.feed.Subscribe(stream)

	// Read again after subscribing so no change between the two is lost.
	if k, err = s.readKey(ctx, in.Key); err != nil {
		s.feed.Unsubscribe(stream, sub)
		return nil, err
	}
	last := ViewOf(k)
	out := make(chan KeyView, 1)
	out <- last

	go func() {
		defer close(out)
		defer s.feed.Unsubscribe(stream, sub)

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub:
				if !ok {
					return
				}
				k, err := s.readKey(ctx, in.Key)
				if err != nil {
					errutil.LogErrorContext(ctx, s.logger, "key watch read failed", err, "stream", stream)
					continue
				}
				v := ViewOf(k)
				if reflect.DeepEqual(v, last) {
					continue
				}
				last = v
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
