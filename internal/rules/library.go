package rules

// ruleLibraryScript is the built-in in-page rule library. It mirrors the
// static check set but runs against the live DOM, so it sees script-built
// content and can attach viewport bounding boxes.
const ruleLibraryScript = `var __siteRules = {
  run(spec) {
    const tags = new Set(spec.tags || []);
    const roots = (spec.include && spec.include.length)
      ? spec.include.flatMap(s => Array.from(document.querySelectorAll(s)))
      : [document.documentElement];
    const excluded = (spec.exclude || []).flatMap(s => Array.from(document.querySelectorAll(s)));

    const inScope = el => roots.some(r => r.contains(el)) && !excluded.some(x => x.contains(el));

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
        const same = cur.parentElement
          ? Array.from(cur.parentElement.children).filter(c => c.tagName === cur.tagName).length
          : 1;
        parts.unshift(same > 1 ? name + ':nth-of-type(' + n + ')' : name);
      }
      return parts.join(' > ');
    };

    const node = (el, summary) => {
      const rect = el.getBoundingClientRect();
      return {
        target: [path(el)],
        html: (el.outerHTML || '').slice(0, 800),
        failureSummary: summary,
        bbox: rect.width || rect.height
          ? {x: rect.x, y: rect.y, width: rect.width, height: rect.height}
          : null
      };
    };

    const q = sel => Array.from(document.querySelectorAll(sel)).filter(inScope);
    const name = el => {
      if ((el.getAttribute('aria-label') || '').trim()) return true;
      if ((el.getAttribute('title') || '').trim()) return true;
      const ref = (el.getAttribute('aria-labelledby') || '').trim();
      if (ref && ref.split(/\s+/).some(id => document.getElementById(id))) return true;
      if ((el.textContent || '').trim()) return true;
      return Array.from(el.querySelectorAll('img[alt]')).some(i => (i.getAttribute('alt') || '').trim());
    };

    const checks = [
      {id: 'html-has-lang', impact: 'serious', tags: ['wcag2a'],
       help: 'The document must declare a lang attribute on the html element',
       run() {
         const html = document.documentElement;
         return (html.getAttribute('lang') || '').trim()
           ? [] : [node(html, 'The html element has no lang attribute')];
       }},
      {id: 'image-alt', impact: 'critical', tags: ['wcag2a'],
       help: 'Images must have an alt attribute',
       run: () => q('img').filter(i =>
           !i.hasAttribute('alt') &&
           i.getAttribute('role') !== 'presentation' &&
           i.getAttribute('aria-hidden') !== 'true')
         .map(i => node(i, 'Image has no alt attribute'))},
      {id: 'label', impact: 'critical', tags: ['wcag2a'],
       help: 'Form controls must have an associated label',
       run: () => q('input, select, textarea').filter(el => {
           const type = el.getAttribute('type') || '';
           if (['hidden', 'submit', 'button', 'reset', 'image'].includes(type)) return false;
           if ((el.getAttribute('aria-label') || '').trim()) return false;
           if ((el.getAttribute('title') || '').trim()) return false;
           const ref = (el.getAttribute('aria-labelledby') || '').trim();
           if (ref && ref.split(/\s+/).some(id => document.getElementById(id))) return false;
           if (el.labels && el.labels.length) return false;
           return !el.closest('label');
         }).map(el => node(el, 'Form control has no associated label'))},
      {id: 'link-name', impact: 'serious', tags: ['wcag2a'],
       help: 'Links and buttons must have discernible text',
       run: () => q('a[href], button').filter(el => !name(el))
         .map(el => node(el, 'Element has no discernible text'))},
      {id: 'duplicate-id', impact: 'minor', tags: ['best-practice'],
       help: 'id attribute values must be unique',
       run() {
         const byID = new Map();
         for (const el of q('[id]')) {
           const list = byID.get(el.id) || [];
           list.push(el);
           byID.set(el.id, list);
         }
         const out = [];
         for (const [id, els] of byID) {
           if (els.length < 2) continue;
           for (const el of els) {
             out.push(node(el, 'Document contains multiple elements with id "' + id + '"'));
           }
         }
         return out;
       }},
      {id: 'heading-order', impact: 'moderate', tags: ['best-practice'],
       help: 'Heading levels should only increase by one',
       run() {
         const out = [];
         let prev = 0;
         for (const h of document.querySelectorAll('h1,h2,h3,h4,h5,h6')) {
           const level = +h.tagName[1];
           if (prev && level > prev + 1 && inScope(h)) {
             out.push(node(h, 'Heading level skips from h' + prev + ' to h' + level));
           }
           prev = level;
         }
         return out;
       }},
      {id: 'tabindex', impact: 'serious', tags: ['best-practice'],
       help: 'Elements should not use tabindex greater than zero',
       run: () => q('[tabindex]').filter(el => parseInt(el.getAttribute('tabindex'), 10) > 0)
         .map(el => node(el, 'Element has tabindex=' + el.getAttribute('tabindex')))},
      {id: 'video-caption', impact: 'critical', tags: ['wcag2a'],
       help: 'Video elements must have a captions track',
       run: () => q('video').filter(v =>
           !v.querySelector('track[kind="captions"], track[kind="subtitles"]'))
         .map(v => node(v, 'Video has no captions track'))}
    ];

    const violations = [];
    const incomplete = [];
    for (const check of checks) {
      if (!check.tags.some(t => tags.has(t))) continue;
      let nodes;
      try {
        nodes = check.run();
      } catch (e) {
        incomplete.push({id: check.id, impact: check.impact, help: check.help,
          nodes: [{target: ['html'], html: '', failureSummary: 'Check failed: ' + e, bbox: null}]});
        continue;
      }
      if (nodes.length) {
        violations.push({id: check.id, impact: check.impact, help: check.help, nodes: nodes});
      }
    }
    return {violations: violations, incomplete: incomplete};
  }
};`
