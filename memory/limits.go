package memory

// Capacity limits of the backing medium. Together they allow roughly
// 1 GiB of encoded content per drive.
const (
	// MsgSize is the maximum chunk body length in bytes. Messages carry
	// up to 2000 characters; 50 are reserved for the next-pointer tail.
	MsgSize = 1950

	// MinMsgPerChannel is how many messages per data channel the
	// allocator accounts for.
	MinMsgPerChannel = 351

	// MaxChannelsPerBucket caps data channels under one bucket category.
	MaxChannelsPerBucket = 48

	// MaxBuckets caps bucket categories per drive.
	MaxBuckets = 30

	// TotalChannelContentSize is the byte capacity of one data channel.
	TotalChannelContentSize = MsgSize * MinMsgPerChannel
)
