package perf

// MetricsScript is evaluated in the page to collect the metrics snapshot.
// It relies only on buffered performance entries so it is synchronous: no
// observers are registered and no waiting occurs. The returned object must
// unmarshal into Metrics.
const MetricsScript = `(() => {
  const res = performance.getEntriesByType('resource');
  const nav = performance.getEntriesByType('navigation')[0];
  const origin = location.origin;

  let totalBytes = 0, scriptBytes = 0, thirdParty = 0, renderBlocking = 0;
  for (const r of res) {
    const size = r.transferSize || r.encodedBodySize || 0;
    totalBytes += size;
    if (r.initiatorType === 'script') scriptBytes += size;
    try {
      if (new URL(r.name).origin !== origin) thirdParty++;
    } catch (e) {}
    if (r.renderBlockingStatus === 'blocking') renderBlocking++;
  }
  if (nav) totalBytes += nav.transferSize || 0;

  let longTaskMs = 0;
  for (const t of performance.getEntriesByType('longtask')) longTaskMs += t.duration;

  let cls = 0;
  for (const s of performance.getEntriesByType('layout-shift')) {
    if (!s.hadRecentInput) cls += s.value;
  }

  let lcpMs = 0;
  const lcpEntries = performance.getEntriesByType('largest-contentful-paint');
  if (lcpEntries.length) lcpMs = lcpEntries[lcpEntries.length - 1].startTime;

  let offscreenEager = 0;
  const oversized = [];
  const sizeByURL = new Map();
  for (const r of res) {
    if (r.initiatorType === 'img' || r.initiatorType === 'css') {
      sizeByURL.set(r.name, r.transferSize || r.encodedBodySize || 0);
    }
  }
  const viewportH = window.innerHeight;
  document.querySelectorAll('img').forEach((img, idx) => {
    const rect = img.getBoundingClientRect();
    const below = rect.top > viewportH * 1.5;
    if (below && img.loading !== 'lazy') offscreenEager++;
    const bytes = sizeByURL.get(img.currentSrc || img.src) || 0;
    if (bytes >= 300 * 1024) {
      const sel = img.id ? '#' + img.id : 'img:nth-of-type(' + (idx + 1) + ')';
      oversized.push({selector: sel, bytes: bytes});
    }
  });

  return {
    totalBytes: Math.round(totalBytes),
    requestCount: res.length + (nav ? 1 : 0),
    thirdPartyRequests: thirdParty,
    scriptBytes: Math.round(scriptBytes),
    renderBlocking: renderBlocking,
    domNodes: document.getElementsByTagName('*').length,
    ttfbMs: nav ? nav.responseStart - nav.requestStart : 0,
    lcpMs: lcpMs,
    cls: cls,
    longTaskMs: longTaskMs,
    offscreenEagerImgs: offscreenEager,
    oversizedImages: oversized.slice(0, 10)
  };
})()`
