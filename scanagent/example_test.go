package scanagent_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gonzalop/ftpgate/scanagent"
)

// ExampleNewServer demonstrates running an agent backed by clamd.
func ExampleNewServer() {
	s, err := scanagent.NewServer(scanagent.DefaultAddr,
		scanagent.WithScanner(&scanagent.ClamdScanner{Addr: "tcp://127.0.0.1:3310"}),
		scanagent.WithScanTimeout(2*time.Minute),
	)
	if err != nil {
		log.Fatal(err)
	}
	go func() {
		if err := s.ListenAndServe(); !errors.Is(err, scanagent.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.Shutdown(ctx)
}

// ExampleClient_Check demonstrates gating an upload on a verdict.
func ExampleClient_Check() {
	c, err := scanagent.NewClient("scanner.internal:9001")
	if err != nil {
		log.Fatal(err)
	}
	clean, msg := c.Check(context.Background(), "invoice.pdf")
	if !clean {
		fmt.Println("blocked:", msg)
		return
	}
	fmt.Println("clean")
}

// ExampleEncodeVerdict shows the fixed-width reply field.
func ExampleEncodeVerdict() {
	b := scanagent.EncodeVerdict(scanagent.ScanError("database is out of date"))
	fmt.Printf("%q\n", b[:])
	// Output: "SCAN_ERROR: data"
}
