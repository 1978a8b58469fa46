package session

// domScanScript walks the top document and returns the interactive elements in
// document order. Shadow trees and iframes are not entered: actions resolve
// elements by an XPath evaluated against the top document, which cannot reach
// them. The caller applies the viewport expansion.
const domScanScript = `(expansion) => {
  const INTERACTIVE_TAGS = new Set(['A','BUTTON','INPUT','SELECT','TEXTAREA','DETAILS','SUMMARY','OPTION','LABEL']);
  const INTERACTIVE_ROLES = new Set(['button','link','checkbox','radio','tab','menuitem','menuitemcheckbox',
    'menuitemradio','option','combobox','listbox','switch','textbox','searchbox','slider','spinbutton','treeitem']);
  const ATTRS = ['id','class','name','type','role','href','placeholder','aria-label','aria-expanded',
    'aria-haspopup','title','value','for','action','disabled','aria-disabled','readonly','alt'];
  const vw = window.innerWidth, vh = window.innerHeight;

  const xpathOf = (el) => {
    if (el.ownerDocument !== document || !document.documentElement.contains(el)) { return ''; }
    const parts = [];
    for (let node = el; node && node.nodeType === 1; node = node.parentNode) {
      let i = 1;
      for (let sib = node.previousElementSibling; sib; sib = sib.previousElementSibling) {
        if (sib.nodeName === node.nodeName) { i++; }
      }
      parts.unshift(node.nodeName.toLowerCase() + '[' + i + ']');
    }
    return '/' + parts.join('/');
  };

  const isVisible = (el, rect) => {
    if (rect.width === 0 && rect.height === 0) { return false; }
    const style = window.getComputedStyle(el);
    return style.visibility !== 'hidden' && style.display !== 'none' && style.opacity !== '0';
  };

  const isInteractive = (el) => {
    if (INTERACTIVE_TAGS.has(el.tagName)) {
      return !(el.tagName === 'A' && !el.hasAttribute('href') && !el.hasAttribute('onclick'));
    }
    const role = el.getAttribute('role');
    if (role && INTERACTIVE_ROLES.has(role)) { return true; }
    if (el.hasAttribute('onclick') || el.isContentEditable) { return true; }
    const ti = el.getAttribute('tabindex');
    return ti !== null && ti !== '-1';
  };

  const out = [];
  const visit = (root) => {
    const walker = document.createTreeWalker(root, NodeFilter.SHOW_ELEMENT);
    for (let el = walker.currentNode; el; el = walker.nextNode()) {
      if (el.nodeType !== 1) { continue; }
      if (el.tagName === 'IFRAME' || !isInteractive(el)) { continue; }
      const rect = el.getBoundingClientRect();
      const visible = isVisible(el, rect);
      const inViewport = expansion < 0 ||
        (rect.bottom >= -expansion && rect.top <= vh + expansion && rect.right >= 0 && rect.left <= vw);
      if (!visible) { continue; }
      const xpath = xpathOf(el);
      if (!xpath) { continue; }
      const attributes = {};
      for (const name of ATTRS) {
        const v = el.getAttribute(name);
        if (v !== null) { attributes[name] = v; }
      }
      if ((el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') && el.value) { attributes['value'] = el.value; }
      const text = (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim();
      out.push({
        tagName: el.tagName,
        role: el.getAttribute('role') || '',
        text: text.slice(0, 300),
        attributes,
        xpath,
        bbox: {x: rect.x, y: rect.y, width: rect.width, height: rect.height},
        isVisible: visible,
        inViewport,
      });
    }
  };
  if (document.body) { visit(document.body); }

  const scrollY = window.scrollY || 0;
  const total = document.documentElement ? document.documentElement.scrollHeight : 0;
  return {
    readyState: document.readyState,
    elements: out,
    pixelsAbove: Math.round(scrollY),
    pixelsBelow: Math.max(0, Math.round(total - scrollY - vh)),
  };
}`
