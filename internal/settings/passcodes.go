package settings

import (
	"encoding/json"
	"fmt"
)

const keyPasscodes = "passcodes"

// sessionsSection keeps sibling keys of passcodes intact.
type sessionsSection map[string]json.RawMessage

func (s *Store) passcodesLocked(doc document) (sessionsSection, map[string]string) {
	sec := sessionsSection{}
	codes := map[string]string{}
	if raw, ok := doc[keySessions]; ok {
		if err := json.Unmarshal(raw, &sec); err != nil || sec == nil {
			sec = sessionsSection{}
		}
	}
	if raw, ok := sec[keyPasscodes]; ok {
		if err := json.Unmarshal(raw, &codes); err != nil || codes == nil {
			codes = map[string]string{}
		}
	}
	return sec, codes
}

func (s *Store) writePasscodes(fn func(codes map[string]string) bool) error {
	return s.update(func(doc document) error {
		sec, codes := s.passcodesLocked(doc)
		if !fn(codes) {
			return nil
		}
		raw, err := json.Marshal(codes)
		if err != nil {
			return fmt.Errorf("encode passcodes: %w", err)
		}
		sec[keyPasscodes] = raw
		return doc.set(keySessions, sec)
	})
}

// Passcodes returns every session passcode keyed by session id.
func (s *Store) Passcodes() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, codes := s.passcodesLocked(s.loadLocked())
	return codes
}

func (s *Store) Passcode(sessionID string) (string, bool) {
	code, ok := s.Passcodes()[sessionID]
	return code, ok
}

func (s *Store) SetPasscode(sessionID, code string) error {
	return s.writePasscodes(func(codes map[string]string) bool {
		codes[sessionID] = code
		return true
	})
}

// DeletePasscode is a no-op for sessions without a passcode.
func (s *Store) DeletePasscode(sessionID string) error {
	return s.writePasscodes(func(codes map[string]string) bool {
		if _, ok := codes[sessionID]; !ok {
			return false
		}
		delete(codes, sessionID)
		return true
	})
}
