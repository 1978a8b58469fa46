package actions

// dropdownInspectScript classifies the dropdown at xpath and lists its options.
// Kinds: native (<select>), listbox (role=listbox), combobox (role=combobox or
// an input bound to a datalist/popup), custom (anything else that holds option-like nodes).
const dropdownInspectScript = `function(xpath) {
  /*webpilot:dropdown-inspect*/
  ` + dropdownCommon + `
  const el = byXPath(xpath);
  if (!el) { return {found: false, kind: '', options: []}; }
  const kind = kindOf(el);
  const options = optionNodes(el, kind).map((o, i) => ({
    id: o.id || '',
    text: (o.label || o.innerText || o.textContent || '').replace(/\s+/g, ' ').trim(),
    value: o.tagName === 'OPTION' ? o.value : (o.getAttribute('data-value') || o.getAttribute('value') || ''),
    position: i,
  }));
  return {found: true, kind, options};
}`

// dropdownApplyScript selects the option at position and fires the events a
// user selection would. Combobox inputs get the option text written back.
const dropdownApplyScript = `function(xpath, position) {
  /*webpilot:dropdown-apply*/
  ` + dropdownCommon + `
  const el = byXPath(xpath);
  if (!el) { return {applied: false, reason: 'dropdown disappeared'}; }
  const kind = kindOf(el);
  const options = optionNodes(el, kind);
  const opt = options[position];
  if (!opt) { return {applied: false, reason: 'option disappeared'}; }
  const fire = (target) => {
    target.dispatchEvent(new Event('input', {bubbles: true}));
    target.dispatchEvent(new Event('change', {bubbles: true}));
  };
  const text = (opt.label || opt.innerText || opt.textContent || '').replace(/\s+/g, ' ').trim();
  if (kind === 'native') {
    el.selectedIndex = opt.index;
    fire(el);
    return {applied: true, value: el.value, text};
  }
  for (const o of options) { o.setAttribute('aria-selected', o === opt ? 'true' : 'false'); }
  opt.scrollIntoView({block: 'nearest'});
  opt.click();
  let value = opt.getAttribute('data-value') || opt.getAttribute('value') || text;
  if (kind === 'combobox') {
    const input = (el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') ? el : el.querySelector('input,textarea');
    if (input) {
      const setter = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(input), 'value');
      if (setter && setter.set) { setter.set.call(input, text); } else { input.value = text; }
      fire(input);
      value = input.value;
    }
  }
  fire(el);
  return {applied: true, value, text};
}`

const dropdownCommon = resolveXPath + `
  const popupOf = (el) => {
    const ids = [el.getAttribute('aria-controls'), el.getAttribute('aria-owns')].filter(Boolean).join(' ').split(/\s+/);
    for (const id of ids) {
      const popup = id && document.getElementById(id);
      if (popup) { return popup; }
    }
    if (el.list) { return el.list; }
    return null;
  };
  const kindOf = (el) => {
    if (el.tagName === 'SELECT') { return 'native'; }
    const role = el.getAttribute('role');
    if (role === 'listbox') { return 'listbox'; }
    if (role === 'combobox' || (el.tagName === 'INPUT' && (el.list || el.getAttribute('aria-autocomplete')))) { return 'combobox'; }
    return 'custom';
  };
  const optionNodes = (el, kind) => {
    if (kind === 'native') { return Array.from(el.options); }
    const scopes = [];
    const popup = popupOf(el);
    if (popup) { scopes.push(popup); }
    scopes.push(el);
    if (el.nextElementSibling) { scopes.push(el.nextElementSibling); }
    for (const scope of scopes) {
      const sel = kind === 'custom' ? '[role=option],option,li,[data-value]' : '[role=option],option';
      const found = Array.from(scope.querySelectorAll(sel));
      if (found.length > 0) { return found; }
    }
    return [];
  };
`
