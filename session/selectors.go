package session

// Selectors and JS snippets for the Activity Builder page. Everything here is
// evaluated fresh on each call; no element handles are held across reads.

const (
	// Sidebar and canvas structure.
	selSidebarSection = `.designer__sidebar .designer__section-item`
	selSectionTitle   = `.designer__section-item-title`
	selAddSection     = `.designer__sidebar [data-action~="designer#addSection"]`
	selSectionRename  = `input.designer__section-title-input`
	selPaletteTab     = `.designer__sidebar-tab`
	selPaletteCard    = `.designer__palette-card[data-type=%q]`
	selFieldHandle    = `#%s .designer__field-handle`

	// Login page.
	selLoginEmail    = `input[name="user[email]"]`
	selLoginPassword = `input[name="user[password]"]`
	selLoginSubmit   = `button[type="submit"], input[type="submit"]`
)

const (
	// jsFieldIDs returns the ordered wrapper IDs of every field in the
	// active section.
	jsFieldIDs = `() => Array.from(
		document.querySelectorAll('#section-fields [id^="section-field-"]')
	).map(el => el.id)`

	// jsFieldIDsBySelector returns ordered strict IDs matching a kind's
	// canvas selector. Wrappers without a section-field id are skipped.
	jsFieldIDsBySelector = `sel => Array.from(document.querySelectorAll(sel))
		.filter(el => el.id && el.id.startsWith('section-field-'))
		.map(el => el.id)`

	// jsHasField re-finds a field by ID and requires it to be laid out.
	jsHasField = `id => {
		const el = document.getElementById(id);
		return !!el && el.getClientRects().length > 0;
	}`

	// jsFieldClasses returns the wrapper class list of a field.
	jsFieldClasses = `id => {
		const el = document.getElementById(id);
		return el ? Array.from(el.classList) : [];
	}`

	// jsGestureActive probes drag mode: canvas dragging modifier or any
	// highlighted dropzone.
	jsGestureActive = `() =>
		!!document.querySelector('.designer__canvas--dragging') ||
		document.querySelectorAll('.draggable-dropzone--active').length > 0`

	// jsSortActive probes an existing-field sort drag.
	jsSortActive = `() =>
		!!document.querySelector('.sortable-ghost, .sortable-chosen') ||
		document.body.classList.contains('sortable--dragging')`

	// jsCanvasTarget reports which section the canvas is rendering: the
	// create-field form path when present, else the designer turbo-frame src.
	jsCanvasTarget = `() => {
		const inp = document.querySelector('input#create_field_path');
		if (inp && inp.value) return inp.value;
		const tf = document.querySelector('turbo-frame#designer_fields');
		return tf ? (tf.getAttribute('src') || '') : '';
	}`

	// jsSectionEmpty: visible empty-canvas placeholder AND zero wrappers.
	jsSectionEmpty = `() => {
		const zone = document.getElementById('drop-zone-0');
		const visible = !!zone && zone.getClientRects().length > 0;
		const count = document.querySelectorAll('#section-fields [id^="section-field-"]').length;
		return visible && count === 0;
	}`

	// jsDropzoneActive reports whether a dropzone is highlighted as a live
	// drop target.
	jsDropzoneActive = `id => {
		const el = document.getElementById(id);
		return !!el && el.classList.contains('draggable-dropzone--active');
	}`

	// jsClearSortResidue removes leftover sort artifacts after a cancelled
	// or failed move.
	jsClearSortResidue = `() => {
		document.querySelectorAll('.sortable-ghost, .sortable-chosen')
			.forEach(el => el.remove());
		document.body.classList.remove('sortable--dragging');
	}`

	// jsSyntheticRelease finishes a drag by dispatching synthesized pointer
	// and mouse events at viewport coordinates, bypassing hit testing.
	jsSyntheticRelease = `(x, y) => {
		const el = document.elementFromPoint(x, y) || document.body;
		for (const type of ['pointermove', 'mousemove', 'pointerup', 'mouseup']) {
			const Ctor = type.startsWith('pointer') ? PointerEvent : MouseEvent;
			el.dispatchEvent(new Ctor(type, {
				bubbles: true, cancelable: true,
				clientX: x, clientY: y, button: 0,
			}));
		}
		return true;
	}`

	// jsSyntheticMove replays a whole field move as synthesized events over
	// the source handle and the target's chosen half.
	jsSyntheticMove = `(srcId, dstId, before) => {
		const src = document.getElementById(srcId);
		const dst = document.getElementById(dstId);
		if (!src || !dst) return false;
		const handle = src.querySelector('.designer__field-handle') || src;
		const sb = handle.getBoundingClientRect();
		const db = dst.getBoundingClientRect();
		const sx = sb.left + sb.width / 2, sy = sb.top + sb.height / 2;
		const dx = db.left + db.width / 2;
		const dy = before ? db.top + db.height * 0.25 : db.top + db.height * 0.75;
		const fire = (el, type, x, y) => {
			const Ctor = type.startsWith('pointer') ? PointerEvent : MouseEvent;
			el.dispatchEvent(new Ctor(type, {
				bubbles: true, cancelable: true,
				clientX: x, clientY: y, button: 0,
			}));
		};
		fire(handle, 'pointerdown', sx, sy);
		fire(handle, 'mousedown', sx, sy);
		fire(handle, 'pointermove', sx, sy + 4);
		fire(handle, 'mousemove', sx, sy + 4);
		fire(dst, 'pointermove', dx, dy);
		fire(dst, 'mousemove', dx, dy);
		fire(dst, 'pointerup', dx, dy);
		fire(dst, 'mouseup', dx, dy);
		return true;
	}`
)
