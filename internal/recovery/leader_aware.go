/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package recovery

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Elector is the part of leadership.Election the sweeper depends on.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// Runner is a long-running loop such as Sweeper.Run.
type Runner interface {
	Run(ctx context.Context) error
}

// LeaderAwareSweeper runs the sweep loop only while this instance holds
// leadership.
type LeaderAwareSweeper struct {
	runner   Runner
	election Elector
	logger   zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

// NewLeaderAware wraps runner with election.
func NewLeaderAware(runner Runner, election Elector, logger zerolog.Logger) *LeaderAwareSweeper {
	return &LeaderAwareSweeper{
		runner:   runner,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_sweeper").Logger(),
	}
}

// Start begins campaigning and follows leadership changes until ctx ends.
func (l *LeaderAwareSweeper) Start(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	l.logger.Info().Msg("starting leader-aware sweeper")
	if err := l.election.Start(ctx); err != nil {
		return err
	}
	go l.monitorLeadership(ctx)
	return nil
}

// Stop halts the sweep loop and releases leadership.
func (l *LeaderAwareSweeper) Stop() error {
	l.logger.Info().Msg("stopping leader-aware sweeper")
	l.stopRunner()
	return l.election.Stop()
}

// IsLeader returns whether this instance is the leader.
func (l *LeaderAwareSweeper) IsLeader() bool {
	return l.election.IsLeader()
}

// Running reports whether the sweep loop is active on this instance.
func (l *LeaderAwareSweeper) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *LeaderAwareSweeper) monitorLeadership(ctx context.Context) {
	leaderCh := l.election.LeaderCh()
	if l.election.IsLeader() {
		l.startRunner()
	}

	for {
		select {
		case <-ctx.Done():
			l.stopRunner()
			return
		case isLeader := <-leaderCh:
			if isLeader {
				l.logger.Info().Msg("became leader, starting recovery sweep")
				l.startRunner()
			} else {
				l.logger.Warn().Msg("lost leadership, stopping recovery sweep")
				l.stopRunner()
			}
		}
	}
}

func (l *LeaderAwareSweeper) startRunner() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running || l.ctx == nil {
		return
	}

	ctx, cancel := context.WithCancel(l.ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.running = true

	go func() {
		defer close(done)
		if err := l.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("recovery sweep error")
		}
		l.mu.Lock()
		if l.done == done {
			l.running = false
		}
		l.mu.Unlock()
	}()
}

func (l *LeaderAwareSweeper) stopRunner() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}
