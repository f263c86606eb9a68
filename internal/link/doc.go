// Package link owns the serial connection to the terrarium microcontroller.
//
// The microcontroller speaks a newline-delimited ASCII protocol: the host
// writes one command line and the board answers with one line, either an
// acknowledgment such as "OK:FAN_ON" or a JSON sensor frame for "READ".
// The board cannot multiplex, so the Transport allows exactly one exchange
// on the wire at a time.
//
// # Exchange
//
//	caller A ──┐
//	caller B ──┼──► [exchange lock] ──► flush ─► write "CMD\n" ─► settle ─► read line
//	poller   ──┘          ▲                                                   │
//	                      └─────────────────── release ◄──────────────────────┘
//
// Errors are sentinels matched with errors.Is:
//   - ErrLink: the port failed; the link stays down until Reconnect
//   - ErrTimeout: no reply in the window, or the caller gave up waiting
//   - ErrProtocol: the reply bytes are not a usable line
//
// # Usage
//
//	cfg := link.Config{PortName: "/dev/ttyACM0", BaudRate: 9600, BootDelay: 2 * time.Second}
//	tr := link.New(cfg, link.SerialOpener(cfg))
//	if err := tr.Reconnect(ctx); err != nil {
//	    log.Warn("microcontroller not reachable yet", "error", err)
//	}
//	defer tr.Close()
//
//	resp, err := tr.Exchange(ctx, link.Request{Command: "FAN:ON", ExpectReply: true})
package link
