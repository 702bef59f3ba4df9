// Package paginate provides lazy cursor-based iteration over Coda listing
// endpoints.
//
// Listing endpoints return pages of the form
//
//	{"items": [...], "nextPageToken": "..."}
//
// where nextPageToken is an opaque server-issued continuation marker. A Pager
// fetches one page at a time through the client, yields items in the exact
// order the server returns them, and terminates when the server omits the
// token. Each page fetch goes through the client's full retry and
// classification logic; a fatal failure on any page aborts the sequence while
// already-yielded items stand.
//
// # Usage
//
//	pager := paginate.New(c, "/docs", nil)
//	for {
//		item, err := pager.Next(ctx)
//		if err == paginate.Done {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		// process item
//	}
//
// Typed iteration:
//
//	docs, err := paginate.Collect[Doc](ctx, paginate.New(c, "/docs", nil))
//
// A Pager is single-pass: create a new one to iterate again.
package paginate
