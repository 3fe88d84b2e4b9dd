package tts

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"
)

// processRunner runs one child process per utterance. The process exiting is
// the completion signal; killing it on purpose fires no callback.
type processRunner struct {
	name string

	mu       sync.Mutex
	cmd      *exec.Cmd
	gen      uint64
	listener Listener
}

func (p *processRunner) setListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

// start replaces whatever is playing with cmd.
func (p *processRunner) start(cmd *exec.Cmd, utteranceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.killLocked()
	if err := cmd.Start(); err != nil {
		logrus.WithError(err).Warnf("Failed to start %s", p.name)
		return false
	}

	p.gen++
	gen := p.gen
	p.cmd = cmd

	go func() {
		err := cmd.Wait()

		p.mu.Lock()
		if p.gen != gen {
			// Stopped or replaced on purpose
			p.mu.Unlock()
			return
		}
		p.cmd = nil
		l := p.listener
		p.mu.Unlock()

		if l == nil {
			return
		}
		if err != nil {
			l.UtteranceError(utteranceID, fmt.Errorf("%s error: %w", p.name, err))
			return
		}
		l.UtteranceDone(utteranceID)
	}()

	return true
}

func (p *processRunner) killLocked() {
	p.gen++
	if p.cmd != nil && p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil {
			logrus.WithError(err).Debugf("%s process already gone", p.name)
		}
	}
	p.cmd = nil
}

func (p *processRunner) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killLocked()
}

func (p *processRunner) playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}
