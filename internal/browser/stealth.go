package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthScript builds the init script injected into every new
// document before any page script runs. It hides the automation
// markers that commercial bot detectors probe first: the webdriver
// flag, the empty plugin list, headless WebGL strings, the missing
// chrome runtime object, and the perfectly stable canvas hashes and
// timer readings of an unmodified headless build.
func stealthScript(fp Fingerprint) string {
	return fmt.Sprintf(`(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

  Object.defineProperty(navigator, 'platform', { get: () => %q });
  Object.defineProperty(navigator, 'languages', { get: () => [%q, 'en'] });
  Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
  Object.defineProperty(navigator, 'deviceMemory', { get: () => %d });

  Object.defineProperty(navigator, 'plugins', {
    get: () => {
      const plugins = [
        { name: 'PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
        { name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
        { name: 'Chromium PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
      ];
      plugins.item = (i) => plugins[i];
      plugins.namedItem = (n) => plugins.find((p) => p.name === n);
      return plugins;
    },
  });

  const getParameter = WebGLRenderingContext.prototype.getParameter;
  WebGLRenderingContext.prototype.getParameter = function (param) {
    if (param === 37445) return %q;
    if (param === 37446) return %q;
    return getParameter.call(this, param);
  };

  if (!window.chrome) {
    window.chrome = { runtime: {}, loadTimes: () => ({}), csi: () => ({}) };
  }

  const toDataURL = HTMLCanvasElement.prototype.toDataURL;
  HTMLCanvasElement.prototype.toDataURL = function (...args) {
    const ctx = this.getContext('2d');
    if (ctx && this.width > 0 && this.height > 0) {
      const pixel = ctx.getImageData(0, 0, 1, 1);
      pixel.data[0] = pixel.data[0] ^ 1;
      ctx.putImageData(pixel, 0, 0);
    }
    return toDataURL.apply(this, args);
  };

  const realNow = performance.now.bind(performance);
  let clockDrift = 0;
  performance.now = () => {
    clockDrift += Math.random() * 0.01;
    return realNow() + clockDrift;
  };

  const origQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
  window.navigator.permissions.query = (params) =>
    params.name === 'notifications'
      ? Promise.resolve({ state: Notification.permission })
      : origQuery(params);
})();`,
		fp.Platform, fp.Locale,
		fp.HardwareConcurrency, fp.DeviceMemory,
		fp.WebGLVendor, fp.WebGLRenderer)
}

// installStealth registers the evasion script to run on every new
// document in the session.
func installStealth(fp Fingerprint) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript(fp)).Do(ctx)
		return err
	})
}
