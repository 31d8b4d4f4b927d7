/*
Package calypso talks to Calypso contactless transit cards (ISO 14443 Type B)
through any byte-level transport.

It provides:
  - Card discovery: UID, ATR, serial number, revision and regional network
  - Per-card key diversification (DES, two-key 3DES, AES-128)
  - The secure session state machine (select, open, close)
  - Plain record reads and MAC-protected record and counter updates
  - A decoder for contract and event records, dispatched on card type
  - A dictionary key recovery engine over a fixed key corpus
  - Card dumps handed to a pluggable sink
  - PC/SC card connection wrapper

# Session Lifecycle

	Idle ──SelectApplication──▶ Selected ──Open──▶ Authenticating ──▶ Authenticated ──Close──▶ Closed
	                                                      │
	                                                      └── failure ──▶ Idle (key material zeroed)

SelectApplication is allowed from every state and always drops an open
session first. UpdateRecord, IncreaseCounter and DecreaseCounter only run
in Authenticated; from any other state they fail with a *StateError before
anything is sent. A transport failure or a MAC rejection (SW=6988) during
an authenticated command moves the session to Closed.

# File Map

The transport application (DF 0x2001, or DF name "1TIC.ICA") holds:

	SFI 0x07  Environment   1 record    network id, holder profile
	SFI 0x08  Events        cyclic      journey history, most recent first
	SFI 0x09  Contracts     4 records   transit entitlements
	SFI 0x19  Counters      1 record    3-byte counters packed back to back

All records are 29 bytes.

# Operation: Select Application (INS 0xA4)

	By DF name:  00 A4 04 00 <Lc> <DFName> 00
	By LID:      00 A4 00 00 02 20 <ID> 00
	Response:    <FCI> | 9000

The FCI of the Calypso DF carries the serial number (tag C7, 8 bytes) and
the startup information (tag 53, 7 bytes). Byte 2 of the startup
information is the application type, which gives the revision. Rev1 cards
answer 6E00 to class 0x00 and must be addressed with class 0x94.

Fail states:
  - 6A82: application not present
  - 6E00: class not supported (Rev1 card)

# Operation: Open Secure Session

Key diversification (card number N, big-endian in 8 bytes = d):

	DES/3DES:  dk = E_mk(d) || E_mk(d XOR FF..FF)
	AES-128:   dk = E_mk(d || d XOR FF..FF)

Handshake:

	Command:  00 84 00 00 08                      GET CHALLENGE
	Response: <cc(8)> | 9000

	DES/3DES: sk = E_dk(cc[0:4] || rc[0:4]) || E_dk(cc[4:8] || rc[4:8])
	AES-128:  sk = E_dk(cc || rc)

	Command:  00 82 00 <keyIndex> <Lc> <rc(8)> <E_sk(rc)> 00
	          (AES: <rc(8)> <E_sk(rc || cc)>)
	Response: <E_sk(cc)> | 9000
	          (AES: <E_sk(cc || rc)>)

The card cryptogram is compared in constant time.

Fail states:
  - 6988: reader cryptogram rejected (wrong key)
  - 6983: key blocked
  - 6985: no application selected

# Operation: Authenticated Commands

Every command inside a session appends a truncated CMAC under sk (4 bytes
for DES/3DES, 8 bytes for AES) over:

	cmdCtr(2, BE) || CLA INS P1 P2 || data

cmdCtr starts at zero when the session opens and counts accepted commands.

	Update Record:   00 DC <rec> <SFI<<3|4> <Lc> <data> <MAC> 00
	Increase:        00 32 <n> <0x19<<3> <Lc> <amount(3)> <MAC> 00
	Decrease:        00 30 <n> <0x19<<3> <Lc> <amount(3)> <MAC> 00
	Response:        increase/decrease return the new 3-byte value | 9000

	Close Session:   00 8E 00 00 <Lc> <MAC> 00

Fail states:
  - 6982: no secure session open
  - 6988: MAC rejected (session is closed on both sides)
  - 6400: counter would leave its range
  - 6A83: record not found

# Operation: Read Record (INS 0xB2)

	Command:  00 B2 <rec> <SFI<<3|4> 1D
	Response: <data(29)> | 9000

No session is required. SW=6Cxx is retried once with the corrected Le.

# Operation: Read Binary (INS 0xB0)

	Command:  00 B0 <0x80|SFI> <offset> <Le>

The short-file form only reaches offsets 0..255.

# Record Layouts

Contracts and events are decoded per card type; see ParseContract and
ParseEvent. Navigo stores a 2-byte zone bitmap and little-endian event
locations, MOBIB stores dates day first, Viva Viagem and Andante use a
4-byte zone bitmap and bit 7 of the status byte for "active".
*/
package calypso
