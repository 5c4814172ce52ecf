// Package imagecache provides a concurrent, multi-tier cache for remote
// images.
//
// A Cache resolves a Reference to image bytes from the fastest tier that can
// serve it:
//
//   - Remote references are looked up in a count-limited in-memory LRU and,
//     on a miss, downloaded over HTTP. Concurrent requests for the same
//     locator share a single download.
//   - Local references are read from a durable disk store keyed by a stable
//     identifier such as an ad ID. They never fall back to the network.
//   - None short-circuits to a NO_REFERENCE error without touching any tier.
//
// # Usage
//
//	c, err := imagecache.New(
//	    imagecache.WithBaseURL("https://images.finncdn.no/dynamic/480x360c/"),
//	    imagecache.WithMemoryLimit(100),
//	)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	img, err := c.Image(ctx, imagecache.Remote("2019/8/vertical-0/30/5/a.jpg"))
//	if err != nil {
//	    // render a placeholder
//	}
//
// The save flow persists a downloaded image under a local identifier and the
// un-save flow removes it:
//
//	_, err = c.SaveRemote(ctx, locator, "ad-42")
//	img, err = c.Image(ctx, imagecache.Local("ad-42"))
//	err = c.Delete(ctx, "ad-42")
//
// # Concurrency
//
// At most one download per locator is in flight at any time. Every caller
// attached to it receives the same result. A caller whose context ends
// detaches with a CANCELLED or TIMEOUT error; the download itself is
// cancelled only when the last attached caller detaches. Failed downloads
// are never cached, so the next request starts a fresh attempt.
//
// # Errors
//
// Every error is a github.com/jmgilman/go/errors PlatformError whose code
// identifies the failure: CodeInvalidLocator, CodeNetworkFailure,
// CodeBadStatus, CodeDecodeFailure, CodeTimeout, CodeCancelled,
// CodeDiskNotFound, CodeDiskWriteFailure, CodeNoReference and CodeNoResult.
// Use KindOf to read it. Transient failures are classified retryable.
package imagecache
