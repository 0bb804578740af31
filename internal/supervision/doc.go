// Package supervision tracks the liveness of processes, equipment and
// subequipment.
//
// Each entity combines an alive timer and a comm-fault flag into one status:
//
//	             alive (comm ok)
//	UNCERTAIN ───────────────────▶ RUNNING
//	    ▲                          │   ▲
//	    │ reconfigured   timer     │   │ alive (comm ok,
//	    │                expired / │   │ parent up)
//	    │                comm fault▼   │
//	    └──────────────────────── DOWN ┘
//
//	STOPPED is entered and left only through Manager.Stop and Manager.Start.
//
// Alive timers are checked by a periodic sweep over the RUNNING entities,
// never by a timer per entity. A parent entering DOWN or STOPPED forces its
// children DOWN; when it recovers each child reassesses its own signals, so
// a child that missed its own alive stays DOWN.
//
// Data tags owned by a down entity keep their value and carry
// PROCESS_DOWN, EQUIPMENT_DOWN or SUBEQUIPMENT_DOWN until it runs again.
package supervision
