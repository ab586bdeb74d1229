package keys

const (
	// notation dictionary for key formats:
	// m    = message row
	// c    = conversation order index
	// o    = outbox index (pending inserts and unpushed local changes)
	// k    = client idempotency key index
	// r    = read marker
	// meta = store bookkeeping
	// segments are separated by ":"; <...> = variable segment

	MessageKey     = "m:%s"       // m:<message_id>
	ConversationIx = "c:%s:%s:%s" // c:<conversation_id>:<created_ts>:<seq>
	OutboxIx       = "o:%s:%s"    // o:<created_ts>:<seq>
	ClientKeyIx    = "k:%s"       // k:<client_key>
	ReadMarkerKey  = "r:%s:%s"    // r:<conversation_id>:<user_id>

	MessagePrefix      = "m:"
	ConversationPrefix = "c:%s:" // c:<conversation_id>:
	OutboxPrefix       = "o:"

	// padding widths (fixed for lexicographic ordering)
	TSPadWidth  = 20 // %020d of unix nanos
	SeqPadWidth = 10 // %010d

	SeqKey           = "meta:seq"
	FeedWatermarkKey = "meta:feed:%s" // meta:feed:<conversation_id>
)
