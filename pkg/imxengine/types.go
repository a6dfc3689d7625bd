package imxengine

// Sector is a RAM sector index, 0-based into the allocator's bitmap.
type Sector uint32

// ExtSector is a 32-bit address spanning both RAM and disk tiers. Values
// below [Config.DiskBase] denote RAM sector indices; values at or above it
// denote disk sector indices (see address.go).
type ExtSector uint32

// InvalidSector is PLATFORM_INVALID_SECTOR: the distinguished RAM sector
// address meaning "no sector".
const InvalidSector Sector = 0xFFFFFFFF

// InvalidExtSector is the extended-address-space equivalent of
// [InvalidSector].
const InvalidExtSector ExtSector = 0xFFFFFFFF

// EndOfChain is the distinguished "next" trailer value (all-ones) marking
// the end of a sector chain.
const EndOfChain Sector = 0xFFFFFFFF

// RecordType tags a stream as time-series or event data. It is a small
// const table, not a virtual dispatch target: the writer and reader switch
// on it directly to pick entry width and entries-per-sector.
type RecordType uint8

const (
	// RecordTSD is time-series data: one 32-bit word per sample.
	RecordTSD RecordType = 0

	// RecordEVT is event data: two 32-bit words per sample (timestamp,
	// then value).
	RecordEVT RecordType = 1
)

// wordsPerEntry returns the number of 32-bit words a single sample of this
// record type occupies.
func (rt RecordType) wordsPerEntry() int {
	switch rt {
	case RecordEVT:
		return 2
	default:
		return 1
	}
}

// String implements fmt.Stringer for diagnostics.
func (rt RecordType) String() string {
	switch rt {
	case RecordTSD:
		return "TSD"
	case RecordEVT:
		return "EVT"
	default:
		return "UNKNOWN"
	}
}

// State is one state of the tiered state machine (C9).
type State uint8

const (
	StateIdle State = iota
	StateCheckPressure
	StateMigrateToDisk
	StateWritePending
	StateFlushAll
	StateCancellingFlush
	StateRecovering
)

// String implements fmt.Stringer for diagnostics and logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCheckPressure:
		return "CHECK_PRESSURE"
	case StateMigrateToDisk:
		return "MIGRATE_TO_DISK"
	case StateWritePending:
		return "WRITE_PENDING"
	case StateFlushAll:
		return "FLUSH_ALL"
	case StateCancellingFlush:
		return "CANCELLING_FLUSH"
	case StateRecovering:
		return "RECOVERING"
	default:
		return "UNKNOWN"
	}
}

// flushDone is the flush_progress value reported once a flush session has
// fully completed (101 in spec terms; in-progress values are clamped 0..100).
const flushDone = 101
