package heuristics

// tapTargetScript flags interactive elements whose rendered size falls below
// the 24x24 CSS pixel minimum, or that sit within 8px of another interactive
// element. Hidden and zero-size elements are skipped.
const tapTargetScript = `(() => {
  const MIN = 24, GAP = 8;
  const path = el => {
    const parts = [];
    for (let cur = el; cur && cur.nodeType === 1; cur = cur.parentElement) {
      if (cur.id) { parts.unshift('#' + cur.id); break; }
      const name = cur.tagName.toLowerCase();
      if (name === 'html' || name === 'body') { parts.unshift(name); continue; }
      let n = 1;
      for (let sib = cur.previousElementSibling; sib; sib = sib.previousElementSibling) {
        if (sib.tagName === cur.tagName) n++;
      }
      parts.unshift(name + ':nth-of-type(' + n + ')');
    }
    return parts.join(' > ');
  };

  const targets = [];
  for (const el of document.querySelectorAll('a[href], button, input, select, [role="button"], [onclick]')) {
    const rect = el.getBoundingClientRect();
    if (!rect.width || !rect.height) continue;
    const style = getComputedStyle(el);
    if (style.visibility === 'hidden' || style.display === 'none') continue;
    targets.push({el, rect});
  }

  const out = [];
  for (const t of targets) {
    if (t.rect.width < MIN || t.rect.height < MIN) {
      out.push({
        selector: path(t.el),
        message: 'Tap target is ' + Math.round(t.rect.width) + 'x' + Math.round(t.rect.height) +
                 ' CSS px, below the ' + MIN + 'px minimum'
      });
      continue;
    }
    for (const o of targets) {
      if (o === t) continue;
      const dx = Math.max(0, Math.max(o.rect.left - t.rect.right, t.rect.left - o.rect.right));
      const dy = Math.max(0, Math.max(o.rect.top - t.rect.bottom, t.rect.top - o.rect.bottom));
      if (dx < GAP && dy < GAP) {
        out.push({selector: path(t.el), message: 'Tap target is within ' + GAP + 'px of another target'});
        break;
      }
    }
  }
  return out.slice(0, 50);
})()`

// overlayScript flags fixed or sticky elements covering a large share of the
// viewport, the shape of cookie walls and modal interstitials. Whether the
// overlay is dismissible cannot be judged mechanically, hence needs-review.
const overlayScript = `(() => {
  const vw = window.innerWidth, vh = window.innerHeight;
  const viewportArea = vw * vh;
  if (!viewportArea) return [];

  const out = [];
  for (const el of document.querySelectorAll('body *')) {
    const style = getComputedStyle(el);
    if (style.position !== 'fixed' && style.position !== 'sticky') continue;
    if (style.visibility === 'hidden' || style.display === 'none' || +style.opacity === 0) continue;
    const rect = el.getBoundingClientRect();
    const visW = Math.min(rect.right, vw) - Math.max(rect.left, 0);
    const visH = Math.min(rect.bottom, vh) - Math.max(rect.top, 0);
    if (visW <= 0 || visH <= 0) continue;
    const share = (visW * visH) / viewportArea;
    if (share < 0.2) continue;
    const sel = el.id ? '#' + el.id : el.tagName.toLowerCase() +
      (el.className && typeof el.className === 'string' ? '.' + el.className.trim().split(/\s+/)[0] : '');
    out.push({
      selector: sel,
      message: 'Fixed element covers ' + Math.round(share * 100) + '% of the viewport; verify it can be dismissed'
    });
  }
  return out.slice(0, 10);
})()`
