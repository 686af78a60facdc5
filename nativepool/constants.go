package nativepool

// Constants of record. Named in Go style; each carries the original macro
// name it realizes.
const (
	// DataAlign is POOL_DATA_ALIGN: every header's rounded-up size is a
	// multiple of this, so the user payload immediately following it lands
	// on a naturally aligned address.
	DataAlign = 16

	// DataMagic is POOL_DATA_MAGIC: the 16-bit sentinel stamped into a live
	// header's debug fields, inverted on free to arm double-free detection.
	DataMagic uint16 = 0x1ceb

	// DataPatch is POOL_DATA_PATCH: the dirty-fill / underflow-guard byte
	// value (0xCC in the tbox original this was ported from).
	DataPatch byte = 0xcc
)
