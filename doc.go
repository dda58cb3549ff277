// Package ftpgate implements a plain-TCP FTP client and, in the scanagent
// subpackage, a virus-scan gate that uploads are checked against before they
// are stored.
//
// # Overview
//
// The client speaks the FTP control protocol directly over a net.Conn:
//   - CRLF framing with multi-line replies ("211-..." ... "211 End")
//   - Passive (PASV) and active (PORT) data connections
//   - Binary transfers copied in fixed-size blocks
//   - ASCII transfers with CRLF line endings on the wire
//   - LIST, NLST and the usual directory commands
//
// # Basic Usage
//
//	client, err := ftpgate.Dial("ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
//
//	if err := client.Login("demo", "password"); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := client.StoreFile("report.pdf", "/tmp/report.pdf"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Errors
//
// Failures fall into three groups:
//
//   - *TransportError: the socket failed. On the control connection this ends
//     the session and later calls return ErrSessionClosed. On a data
//     connection only the transfer is lost, but the completion reply has not
//     been read, so check the session (for example with CurrentDir) before
//     reusing it.
//   - *ProtocolError: a reply could not be parsed. The current operation is
//     abandoned.
//   - *CommandError: the server refused the command with a 4xx or 5xx reply.
//     The session stays usable.
//
// Use errors.Is with ErrTemporary or ErrPermanent to tell command errors
// apart:
//
//	if _, err := client.MakeDir("incoming"); errors.Is(err, ftpgate.ErrPermanent) {
//	    // already exists, or not allowed
//	}
//
// # Concurrency
//
// A Client is a single FTP session and is not safe for concurrent use. Open
// one Client per goroutine when transfers must run in parallel.
package ftpgate
