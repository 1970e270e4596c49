// Package knx implements the KNX protocol bridge for SnapDog.
//
// The bridge talks to the KNX bus through the knxd daemon and maps group
// addresses onto zone and client features.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│    Pipeline     │ commands │   KNX Bridge    │   knxd
//	│  & Dispatcher   │◄────────►│   (this pkg)    │◄────────► KNX Bus
//	└─────────────────┘  status  └─────────────────┘
//
// # Key Responsibilities
//
//   - Connect to knxd via Unix socket or TCP and reconnect with backoff
//   - Turn GroupValue_Write on command addresses into pipeline commands
//   - Write status notifications to status addresses
//   - Answer GroupValue_Read on status addresses from live state
//   - Keep features excluded from KNX off the bus
//
// # Group Addresses
//
// Group addresses use the 3-level format Main/Middle/Sub (e.g. "1/2/3"). They
// are configured per zone and client, keyed by feature id:
//
//	zones:
//	  - index: 1
//	    knx:
//	      commands:
//	        VOLUME: "1/0/1"
//	        PLAY: "1/0/2"
//	      status:
//	        VOLUME_STATUS: "1/1/1"
//
// # Datapoint Types
//
//   - DPT 1.001: switch (mute, repeat, shuffle)
//   - DPT 1.017: trigger (play, next, toggles); only a written 1 fires
//   - DPT 5.001: scaling (volume, track progress)
//   - DPT 5.010: counter (indices, volume step, playback state)
//
// Playback state is written as 0 stopped, 1 playing, 2 paused.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
//
// # References
//
//   - knxd daemon: https://github.com/knxd/knxd
package knx
