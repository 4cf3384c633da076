// CLAUDE:SUMMARY Fails remote http(s) requests on Rod pages so fixtures render from local files only.
package browser

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockRemote sets up request interception that fails every network
// request whose scheme is remote. Call the returned stop when the page is done.
func blockRemote(page *rod.Page) func() {
	router := page.HijackRequests()

	router.MustAdd("*", func(ctx *rod.Hijack) {
		if isRemote(ctx.Request.URL().Scheme) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	go router.Run()

	return func() { router.Stop() }
}

func isRemote(scheme string) bool {
	switch scheme {
	case "http", "https", "ws", "wss":
		return true
	}
	return false
}
