package browser

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// InstallRouteGuard intercepts top-level document requests and aborts
// any whose URL fails validation. Redirect chains go through the guard
// too, so a public URL 302-ing to an internal address is blocked at the
// hop, not after.
func (s *rodSession) InstallRouteGuard(validate func(string) error) error {
	router := s.page.HijackRequests()
	err := router.Add("*", proto.NetworkResourceTypeDocument, func(h *rod.Hijack) {
		if err := validate(h.Request.URL().String()); err != nil {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return err
	}
	go router.Run()

	s.mu.Lock()
	s.routerStop = func() { _ = router.Stop() }
	s.mu.Unlock()
	return nil
}
