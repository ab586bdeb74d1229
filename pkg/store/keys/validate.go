package keys

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// conversation and user ids appear inside prefix-scanned keys, so ":"
	// is excluded
	scopedIDRegexp = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,256}$`)
	// message ids only appear as whole-key suffixes
	messageIDRegexp = regexp.MustCompile(`^[^\s]{1,256}$`)
)

func ValidateConversationID(id string) error {
	if id == "" {
		return errors.New("conversation id empty")
	}
	if !scopedIDRegexp.MatchString(id) {
		return fmt.Errorf("invalid conversation id: %q", id)
	}
	return nil
}

func ValidateUserID(id string) error {
	if id == "" {
		return errors.New("user id empty")
	}
	if !scopedIDRegexp.MatchString(id) {
		return fmt.Errorf("invalid user id: %q", id)
	}
	return nil
}

func ValidateMessageID(id string) error {
	if id == "" {
		return errors.New("message id empty")
	}
	if !messageIDRegexp.MatchString(id) {
		return fmt.Errorf("invalid message id: %q", id)
	}
	return nil
}
