package core

import (
	"github.com/google/uuid"

	"pkt.systems/sitesmith/schema"
)

func newSessionID() schema.SessionID {
	return schema.SessionID(uuid.NewString())
}
