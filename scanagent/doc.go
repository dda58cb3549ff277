// Package scanagent implements a small TCP protocol for scanning a file on a
// remote host before it is allowed through.
//
// A request is a header followed by the file body:
//
//	+----------------+------------------+----------------+-------------+
//	| name length    | name (UTF-8)     | body size      | body        |
//	| uint32, BE     | name length bytes| uint64, BE     | size bytes  |
//	+----------------+------------------+----------------+-------------+
//
// The agent stores the body in a private temp directory, runs a Scanner on
// it and answers with exactly ReplySize bytes of text, padded with spaces:
// "OK", "INFECTED", "ERROR_FILE_NOT_FOUND", "CLAMAV_NOT_FOUND", or a
// "SCAN_ERROR: " / "UNKNOWN_SCAN_ERROR: " prefix followed by as much detail
// as fits. The connection is then closed. One connection carries one file.
//
// If the client disconnects before the whole body arrives the agent drops
// the upload without scanning and without a reply. If the agent cannot store
// the body itself, it still reads it to the end and answers with an
// UNKNOWN_SCAN_ERROR verdict.
//
// # Server
//
//	s, err := scanagent.NewServer(scanagent.DefaultAddr,
//	    scanagent.WithScanner(&scanagent.ClamdScanner{Addr: "tcp://127.0.0.1:3310"}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go s.ListenAndServe()
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	s.Shutdown(ctx)
//
// # Client
//
//	c, _ := scanagent.NewClient("scanner:9001")
//	report, err := c.Scan(ctx, "invoice.pdf")
//	switch {
//	case errors.Is(err, scanagent.ErrTimeout):
//	    // agent too slow
//	case err != nil:
//	    // no verdict
//	case !report.Clean:
//	    // blocked: report.Verdict
//	}
package scanagent
